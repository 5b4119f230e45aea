package pipeline

import (
	"os"
	"path/filepath"

	"github.com/orafaelscosta/music/internal/model"
)

// Artifact filenames inside a project directory. Step completion is judged
// by the presence of these files, not by persisted flags, so a re-run after
// a crash sees exactly what was actually produced.
const (
	ArtifactVocalsStem    = "vocals.wav"
	ArtifactMelodyJSON    = "melody.json"
	ArtifactMelodyMIDI    = "melody.mid"
	ArtifactVocalsRaw     = "vocals_raw.wav"
	ArtifactVocalsRefined = "vocals_refined.wav"
	ArtifactMixFinal      = "mix_final.wav"
)

// ProjectDir returns the storage directory for a project's artifacts.
func ProjectDir(storageRoot, projectID string) string {
	return filepath.Join(storageRoot, "projects", projectID)
}

// InstrumentalPath returns the uploaded instrumental's path, or "" when the
// project has no recorded audio format yet.
func InstrumentalPath(storageRoot string, project *model.Project) string {
	if project.AudioFormat == "" {
		return ""
	}
	return filepath.Join(ProjectDir(storageRoot, project.ID), "instrumental."+project.AudioFormat)
}

// ArtifactPath returns the path of a named artifact for a project.
func ArtifactPath(storageRoot, projectID, name string) string {
	return filepath.Join(ProjectDir(storageRoot, projectID), name)
}

// ArtifactExists reports whether a project artifact is present on disk.
func ArtifactExists(storageRoot, projectID, name string) bool {
	_, err := os.Stat(ArtifactPath(storageRoot, projectID, name))
	return err == nil
}
