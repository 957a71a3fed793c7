package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

// maxAudioResponse bounds how much synthesized audio is read from the service.
const maxAudioResponse = 512 << 20

// TTSService calls the speech synthesis model server.
type TTSService struct {
	ServiceURL string
	PrivateKey string
	SampleRate int
	client     *http.Client
}

func InitTTSService(cfg *config.EnvConfig) *TTSService {
	if cfg.TTS.ServiceURL == "" {
		panic("TTS service URL is not configured")
	}

	return &TTSService{
		ServiceURL: strings.TrimRight(cfg.TTS.ServiceURL, "/"),
		PrivateKey: cfg.InternalAuth.PrivateKey,
		SampleRate: cfg.TTS.SampleRate,
		client:     &http.Client{Timeout: cfg.TTS.Timeout},
	}
}

// NewTTSService builds a client against an explicit base URL.
func NewTTSService(serviceURL string, sampleRate int, client *http.Client) *TTSService {
	if client == nil {
		client = http.DefaultClient
	}
	return &TTSService{
		ServiceURL: strings.TrimRight(serviceURL, "/"),
		SampleRate: sampleRate,
		client:     client,
	}
}

// GenerateAudio posts the text (and optional voice prompt) and returns the WAV bytes.
func (t *TTSService) GenerateAudio(ctx context.Context, req entity.AudioRequest) ([]byte, error) {
	url := fmt.Sprintf("%s/generate", t.ServiceURL)

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = t.SampleRate
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("text", req.Text); err != nil {
		return nil, fmt.Errorf("failed to write text field: %w", err)
	}
	if err := w.WriteField("sample_rate", strconv.Itoa(sampleRate)); err != nil {
		return nil, fmt.Errorf("failed to write sample_rate field: %w", err)
	}

	if len(req.Prompt) > 0 {
		name := req.PromptName
		if name == "" {
			name = "prompt.wav"
		}
		fw, err := w.CreateFormFile("audio_prompt", name)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio_prompt part: %w", err)
		}
		if _, err := fw.Write(req.Prompt); err != nil {
			return nil, fmt.Errorf("failed to write audio_prompt part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Accept", "audio/wav")
	if t.PrivateKey != "" {
		httpReq.Header.Set("Private-Key", t.PrivateKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call TTS service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("TTS service returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read TTS response: %w", err)
	}

	return audio, nil
}
