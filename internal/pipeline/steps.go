package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/orafaelscosta/music/internal/engine"
	"github.com/orafaelscosta/music/internal/model"
)

// Steps binds the engine client and storage layout into the handler table
// the orchestrator dispatches on.
type Steps struct {
	engine      *engine.Client
	storageRoot string
}

// NewSteps creates the step set for the given engine client and storage
// root.
func NewSteps(engineClient *engine.Client, storageRoot string) *Steps {
	return &Steps{engine: engineClient, storageRoot: storageRoot}
}

// Handlers returns the step handler table, built once at startup.
func (s *Steps) Handlers() map[model.PipelineStep]StepFunc {
	return map[model.PipelineStep]StepFunc{
		model.StepSeparation: s.runSeparation,
		model.StepAnalysis:   s.runAnalysis,
		model.StepMelody:     s.runMelody,
		model.StepSynthesis:  s.runSynthesis,
		model.StepRefinement: s.runRefinement,
		model.StepMix:        s.runMix,
	}
}

func (s *Steps) runSeparation(ctx context.Context, project *model.Project, report ProgressFunc) error {
	input := InstrumentalPath(s.storageRoot, project)
	if input == "" {
		return fmt.Errorf("no instrumental uploaded")
	}

	report(5, "Separating vocals from instrumental...")
	_, err := s.engine.Separate(ctx, &engine.SeparateRequest{
		InputPath:        input,
		VocalsPath:       ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsStem),
		InstrumentalPath: input,
	})
	if err != nil {
		return err
	}

	report(95, "Separation finished")
	return nil
}

func (s *Steps) runAnalysis(ctx context.Context, project *model.Project, report ProgressFunc) error {
	input := InstrumentalPath(s.storageRoot, project)
	if input == "" {
		return fmt.Errorf("no instrumental uploaded")
	}

	report(10, "Analyzing audio...")
	analysis, err := s.engine.Analyze(ctx, &engine.AnalyzeRequest{InputPath: input})
	if err != nil {
		return err
	}

	project.DurationSeconds = analysis.DurationSeconds
	project.SampleRate = analysis.SampleRate
	project.BPM = analysis.BPM
	project.MusicalKey = analysis.MusicalKey

	report(95, fmt.Sprintf("Detected %.1f BPM, key %s", analysis.BPM, analysis.MusicalKey))
	return nil
}

func (s *Steps) runMelody(ctx context.Context, project *model.Project, report ProgressFunc) error {
	input := InstrumentalPath(s.storageRoot, project)
	if input == "" {
		return fmt.Errorf("no instrumental uploaded")
	}

	bpm := project.BPM
	if bpm == 0 {
		bpm = 120
	}

	report(10, "Extracting melody...")
	result, err := s.engine.ExtractMelody(ctx, &engine.MelodyRequest{
		InputPath:  input,
		BPM:        bpm,
		Lyrics:     project.Lyrics,
		Language:   project.Language,
		MelodyPath: ArtifactPath(s.storageRoot, project.ID, ArtifactMelodyJSON),
		MIDIPath:   ArtifactPath(s.storageRoot, project.ID, ArtifactMelodyMIDI),
	})
	if err != nil {
		return err
	}

	report(95, fmt.Sprintf("Extracted %d notes", result.NoteCount))
	return nil
}

func (s *Steps) runSynthesis(ctx context.Context, project *model.Project, report ProgressFunc) error {
	output := ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsRaw)

	switch project.SynthesisEngine {
	case model.EngineACEStep:
		report(10, "Generating vocal from lyrics...")
		return s.engine.Generate(ctx, &engine.GenerateRequest{
			Lyrics:           project.Lyrics,
			Language:         project.Language,
			DurationSeconds:  project.DurationSeconds,
			InstrumentalPath: InstrumentalPath(s.storageRoot, project),
			OutputPath:       output,
		})
	default:
		report(10, "Synthesizing vocal from melody...")
		return s.engine.Synthesize(ctx, &engine.SynthesizeRequest{
			MelodyPath: ArtifactPath(s.storageRoot, project.ID, ArtifactMelodyJSON),
			OutputPath: output,
			Voicebank:  project.VoiceModel,
			Language:   project.Language,
		})
	}
}

func (s *Steps) runRefinement(ctx context.Context, project *model.Project, report ProgressFunc) error {
	input := ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsRaw)
	if _, err := os.Stat(input); err != nil {
		// Nothing to refine; not an error.
		log.Printf("Refinement bypassed for project %s: no raw vocal", project.ID)
		return nil
	}

	report(10, "Refining vocal timbre...")
	return s.engine.Refine(ctx, &engine.RefineRequest{
		InputPath:  input,
		OutputPath: ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsRefined),
		VoiceModel: project.VoiceModel,
	})
}

func (s *Steps) runMix(ctx context.Context, project *model.Project, report ProgressFunc) error {
	vocal := ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsRefined)
	if _, err := os.Stat(vocal); err != nil {
		vocal = ArtifactPath(s.storageRoot, project.ID, ArtifactVocalsRaw)
	}
	if _, err := os.Stat(vocal); err != nil {
		log.Printf("Mix bypassed for project %s: no vocal to mix", project.ID)
		return nil
	}

	instrumental := InstrumentalPath(s.storageRoot, project)
	if instrumental == "" {
		log.Printf("Mix bypassed for project %s: no instrumental", project.ID)
		return nil
	}
	if _, err := os.Stat(instrumental); err != nil {
		log.Printf("Mix bypassed for project %s: instrumental missing", project.ID)
		return nil
	}

	report(10, "Mixing vocal and instrumental...")
	return s.engine.Mix(ctx, &engine.MixRequest{
		VocalPath:        vocal,
		InstrumentalPath: instrumental,
		OutputPath:       ArtifactPath(s.storageRoot, project.ID, ArtifactMixFinal),
	})
}
