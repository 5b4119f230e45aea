package model

import "time"

// ProjectStatus is the coarse lifecycle phase of a project. It is derived
// from, but not identical to, the current pipeline step: consecutive steps
// may map to the same status.
type ProjectStatus string

const (
	StatusCreated      ProjectStatus = "created"
	StatusAnalyzing    ProjectStatus = "analyzing"
	StatusMelodyReady  ProjectStatus = "melody_ready"
	StatusSynthesizing ProjectStatus = "synthesizing"
	StatusRefining     ProjectStatus = "refining"
	StatusMixing       ProjectStatus = "mixing"
	StatusCompleted    ProjectStatus = "completed"
	StatusError        ProjectStatus = "error"
)

// PipelineStep identifies one phase of the processing pipeline.
type PipelineStep string

const (
	StepUpload     PipelineStep = "upload"
	StepSeparation PipelineStep = "separation"
	StepAnalysis   PipelineStep = "analysis"
	StepMelody     PipelineStep = "melody"
	StepSynthesis  PipelineStep = "synthesis"
	StepRefinement PipelineStep = "refinement"
	StepMix        PipelineStep = "mix"
)

// StepOrder is the fixed execution order of the pipeline. Upload is always
// pre-completed before the orchestrator is invoked.
var StepOrder = []PipelineStep{
	StepUpload,
	StepSeparation,
	StepAnalysis,
	StepMelody,
	StepSynthesis,
	StepRefinement,
	StepMix,
}

// ParseStep validates a step identifier received from the outside.
func ParseStep(s string) (PipelineStep, bool) {
	for _, step := range StepOrder {
		if string(step) == s {
			return step, true
		}
	}
	return "", false
}

// SynthesisEngine selects which vocal synthesis backend a project uses.
type SynthesisEngine string

const (
	// EngineDiffSinger synthesizes from an extracted note sequence.
	EngineDiffSinger SynthesisEngine = "diffsinger"
	// EngineACEStep synthesizes directly from lyrics plus a descriptive
	// prompt and does not consume a note sequence.
	EngineACEStep SynthesisEngine = "acestep"
)

// UsesNoteSequence reports whether the engine consumes extracted melody
// data. Engines that synthesize straight from text skip the melody step.
func (e SynthesisEngine) UsesNoteSequence() bool {
	return e != EngineACEStep
}

// Project is the persisted record of one vocal processing job.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CurrentStep PipelineStep  `json:"currentStep,omitempty"`

	// Progress is 0-100 relative to CurrentStep and resets to 0 whenever
	// the step changes.
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Source audio metadata, populated by upload and analysis.
	InstrumentalFilename string  `json:"instrumentalFilename,omitempty"`
	AudioFormat          string  `json:"audioFormat,omitempty"`
	DurationSeconds      float64 `json:"durationSeconds,omitempty"`
	SampleRate           int     `json:"sampleRate,omitempty"`
	BPM                  float64 `json:"bpm,omitempty"`
	MusicalKey           string  `json:"musicalKey,omitempty"`

	Lyrics   string `json:"lyrics,omitempty"`
	Language string `json:"language,omitempty"`

	// HasVocals marks that the uploaded audio contains a vocal track and
	// needs source separation before processing.
	HasVocals bool `json:"hasVocals"`

	SynthesisEngine SynthesisEngine `json:"synthesisEngine"`
	VoiceModel      string          `json:"voiceModel,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
