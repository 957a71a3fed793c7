package infra

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

func TestTTSGenerateAudio(t *testing.T) {
	var gotKey, gotText, gotRate, gotPrompt, gotPromptName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotKey = r.Header.Get("Private-Key")
		gotText = r.FormValue("text")
		gotRate = r.FormValue("sample_rate")
		if file, header, err := r.FormFile("audio_prompt"); err == nil {
			data, _ := io.ReadAll(file)
			gotPrompt, gotPromptName = string(data), header.Filename
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer server.Close()

	svc := NewTTSService(server.URL+"/", 24000, server.Client())
	svc.PrivateKey = "secret"

	audio, err := svc.GenerateAudio(context.Background(), entity.AudioRequest{
		Text:       "xin chào",
		Prompt:     []byte("voice"),
		PromptName: "me.wav",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(audio) != "RIFF" {
		t.Fatalf("audio = %q", audio)
	}
	if gotKey != "secret" || gotText != "xin chào" || gotRate != "24000" {
		t.Fatalf("key=%q text=%q rate=%q", gotKey, gotText, gotRate)
	}
	if gotPrompt != "voice" || gotPromptName != "me.wav" {
		t.Fatalf("prompt=%q name=%q", gotPrompt, gotPromptName)
	}
}

func TestTTSGenerateAudioWithoutPrompt(t *testing.T) {
	var hasPrompt bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, _, err := r.FormFile("audio_prompt")
		hasPrompt = err == nil
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer server.Close()

	svc := NewTTSService(server.URL, 16000, server.Client())
	if _, err := svc.GenerateAudio(context.Background(), entity.AudioRequest{Text: "hi", SampleRate: 22050}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if hasPrompt {
		t.Fatal("audio_prompt sent without a voice prompt")
	}
}

func TestTTSGenerateAudioErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewTTSService(server.URL, 24000, server.Client()).GenerateAudio(context.Background(), entity.AudioRequest{Text: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("err = %v", err)
	}
}
