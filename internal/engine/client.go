package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orafaelscosta/music/internal/config"
)

// Client talks to the audio engine sidecar. Every operation is a stateless
// transformation: input artifact(s) + parameters in, output artifact(s) out.
// Requests name their output paths explicitly so a re-run overwrites rather
// than appends, keeping each operation safe under at-least-once delivery.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an engine client from config.
func NewClient(cfg *config.EngineConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// AnalyzeRequest asks for BPM, key and duration analysis of an audio file.
type AnalyzeRequest struct {
	InputPath string `json:"input_path"`
}

// AnalyzeResponse carries the musical metadata extracted from the audio.
type AnalyzeResponse struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	BPM             float64 `json:"bpm"`
	MusicalKey      string  `json:"musical_key"`
}

// SeparateRequest asks for vocal / instrumental source separation.
type SeparateRequest struct {
	InputPath        string `json:"input_path"`
	VocalsPath       string `json:"vocals_path"`
	InstrumentalPath string `json:"instrumental_path"`
}

type SeparateResponse struct {
	VocalsPath       string `json:"vocals_path"`
	InstrumentalPath string `json:"instrumental_path"`
}

// MelodyRequest asks for pitch-to-MIDI melody extraction, with optional
// lyric-to-note assignment when lyrics are present.
type MelodyRequest struct {
	InputPath  string  `json:"input_path"`
	BPM        float64 `json:"bpm"`
	Lyrics     string  `json:"lyrics,omitempty"`
	Language   string  `json:"language,omitempty"`
	MelodyPath string  `json:"melody_path"`
	MIDIPath   string  `json:"midi_path"`
}

type MelodyResponse struct {
	NoteCount int `json:"note_count"`
}

// SynthesizeRequest asks a note-sequence engine to sing the melody.
type SynthesizeRequest struct {
	MelodyPath string `json:"melody_path"`
	OutputPath string `json:"output_path"`
	Voicebank  string `json:"voicebank,omitempty"`
	Language   string `json:"language,omitempty"`
}

// GenerateRequest asks a text-to-audio engine to sing directly from
// lyrics plus a descriptive prompt, without a note sequence.
type GenerateRequest struct {
	Lyrics           string  `json:"lyrics"`
	Language         string  `json:"language,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
	InstrumentalPath string  `json:"instrumental_path,omitempty"`
	OutputPath       string  `json:"output_path"`
}

// RefineRequest asks for timbre conversion of a synthesized vocal.
type RefineRequest struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	VoiceModel string `json:"voice_model,omitempty"`
}

// MixRequest asks for the final vocal + instrumental mixdown.
type MixRequest struct {
	VocalPath        string `json:"vocal_path"`
	InstrumentalPath string `json:"instrumental_path"`
	OutputPath       string `json:"output_path"`
	Preset           string `json:"preset,omitempty"`
}

// Analyze extracts BPM, key, duration and sample rate.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	var result AnalyzeResponse
	if err := c.post(ctx, "/analyze", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Separate splits a track into vocal and instrumental stems.
func (c *Client) Separate(ctx context.Context, req *SeparateRequest) (*SeparateResponse, error) {
	var result SeparateResponse
	if err := c.post(ctx, "/separate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExtractMelody produces melody JSON and MIDI from the instrumental.
func (c *Client) ExtractMelody(ctx context.Context, req *MelodyRequest) (*MelodyResponse, error) {
	var result MelodyResponse
	if err := c.post(ctx, "/melody", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize renders a raw vocal from a note sequence.
func (c *Client) Synthesize(ctx context.Context, req *SynthesizeRequest) error {
	return c.post(ctx, "/synthesize", req, nil)
}

// Generate renders a raw vocal directly from lyrics.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) error {
	return c.post(ctx, "/generate", req, nil)
}

// Refine converts vocal timbre toward the selected voice model.
func (c *Client) Refine(ctx context.Context, req *RefineRequest) error {
	return c.post(ctx, "/refine", req, nil)
}

// Mix renders the final mixed track.
func (c *Client) Mix(ctx context.Context, req *MixRequest) error {
	return c.post(ctx, "/mix", req, nil)
}

// HealthCheck checks if the engine sidecar is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *Client) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			return fmt.Errorf("engine %s failed: %s", endpoint, errResp.Detail)
		}
		return fmt.Errorf("engine %s failed: status %d", endpoint, resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
