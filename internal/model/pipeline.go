package model

// ProgressState is the status carried by a progress event.
type ProgressState string

const (
	ProgressProcessing ProgressState = "processing"
	ProgressCompleted  ProgressState = "completed"
	ProgressError      ProgressState = "error"
)

// StepState describes one pipeline step in a status response: whether its
// output artifact exists and whether its inputs are in place.
type StepState struct {
	Completed bool `json:"completed"`
	Available bool `json:"available"`
}

// PipelineStatusResponse is returned by the pipeline status endpoint.
// Step completion is derived from artifact existence on disk, not from
// persisted flags, so a crashed run never leaves the map lying.
type PipelineStatusResponse struct {
	ProjectID    string               `json:"projectId"`
	Status       ProjectStatus        `json:"status"`
	CurrentStep  PipelineStep         `json:"currentStep,omitempty"`
	Progress     int                  `json:"progress"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Files        map[string]bool      `json:"files"`
	Steps        map[string]StepState `json:"steps"`
}

// PipelineStartResponse is returned when a pipeline or step run is queued.
type PipelineStartResponse struct {
	ProjectID string        `json:"projectId"`
	Status    ProjectStatus `json:"status"`
	Step      PipelineStep  `json:"step,omitempty"`
	Queued    bool          `json:"queued"`
}

// QuickStartRequest creates a project and queues its full pipeline in a
// single call. The instrumental upload itself is handled by the storage
// layer; the request carries the recorded filename and format. Name falls
// back to the filename when empty.
type QuickStartRequest struct {
	Name            string          `json:"name" validate:"max=255"`
	Lyrics          string          `json:"lyrics" validate:"required"`
	Language        string          `json:"language" validate:"omitempty,len=2"`
	HasVocals       bool            `json:"hasVocals"`
	SynthesisEngine SynthesisEngine `json:"synthesisEngine" validate:"omitempty,oneof=diffsinger acestep"`
	VoiceModel      string          `json:"voiceModel" validate:"max=255"`
	Filename        string          `json:"filename" validate:"required,max=255"`
	AudioFormat     string          `json:"audioFormat" validate:"required,oneof=wav mp3 flac ogg m4a"`
}

// CreateProjectRequest creates a new project record. File upload itself is
// handled by the storage layer; this carries only the fields the pipeline
// reads.
type CreateProjectRequest struct {
	Name            string          `json:"name" validate:"required,max=255"`
	Description     string          `json:"description" validate:"max=1024"`
	Lyrics          string          `json:"lyrics"`
	Language        string          `json:"language" validate:"omitempty,len=2"`
	HasVocals       bool            `json:"hasVocals"`
	SynthesisEngine SynthesisEngine `json:"synthesisEngine" validate:"omitempty,oneof=diffsinger acestep"`
	VoiceModel      string          `json:"voiceModel" validate:"max=255"`
	AudioFormat     string          `json:"audioFormat" validate:"omitempty,oneof=wav mp3 flac ogg m4a"`
	Filename        string          `json:"filename" validate:"max=255"`
}
