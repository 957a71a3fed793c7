package utils

import (
	"errors"
	"regexp"
	"testing"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		bucket  string
		object  string
		wantErr bool
	}{
		{ref: "audios/audio-1.wav", bucket: "audios", object: "audio-1.wav"},
		{ref: "outputs/nested/path/video.mp4", bucket: "outputs", object: "nested/path/video.mp4"},
		{ref: "no-slash", wantErr: true},
		{ref: "/object", wantErr: true},
		{ref: "bucket/", wantErr: true},
		{ref: "", wantErr: true},
	}

	for _, tt := range tests {
		bucket, object, err := ParseRef(tt.ref)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArtifactRef) {
				t.Errorf("ParseRef(%q) err = %v, want ErrInvalidArtifactRef", tt.ref, err)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || object != tt.object {
			t.Errorf("ParseRef(%q) = %q, %q, %v", tt.ref, bucket, object, err)
		}
		if FormatRef(bucket, object) != tt.ref {
			t.Errorf("FormatRef(%q, %q) != %q", bucket, object, tt.ref)
		}
	}
}

func TestObjectNames(t *testing.T) {
	uuidPattern := `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`
	tests := []struct {
		name    string
		got     string
		pattern string
	}{
		{"text", TextObjectName(), `^text-` + uuidPattern + `\.txt$`},
		{"audio input", AudioInputObjectName("My Voice.M4A"), `^audio-input-` + uuidPattern + `\.m4a$`},
		{"audio input without extension", AudioInputObjectName("voice"), `^audio-input-` + uuidPattern + `$`},
		{"video input", VideoInputObjectName(`C:\clips\face.mp4`), `^video-input-` + uuidPattern + `\.mp4$`},
		{"audio output", AudioOutputObjectName(), `^audio-` + uuidPattern + `\.wav$`},
		{"video output", VideoOutputObjectName(42), `^video_42_[0-9a-f]{8}\.mp4$`},
	}

	for _, tt := range tests {
		if !regexp.MustCompile(tt.pattern).MatchString(tt.got) {
			t.Errorf("%s: %q does not match %s", tt.name, tt.got, tt.pattern)
		}
	}

	if TextObjectName() == TextObjectName() {
		t.Fatal("object names must be unique")
	}
}
