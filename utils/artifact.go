package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Artifact buckets, one per kind of object the pipeline stores.
const (
	BucketTexts   = "texts"
	BucketAudios  = "audios"
	BucketVideos  = "videos"
	BucketOutputs = "outputs"
)

var ArtifactBuckets = []string{BucketTexts, BucketAudios, BucketVideos, BucketOutputs}

var ErrInvalidArtifactRef = errors.New("invalid artifact reference")

// FormatRef builds the "bucket/object" reference stored in the job ledger.
func FormatRef(bucket, object string) string {
	return bucket + "/" + object
}

// ParseRef splits a reference on its first slash. Object names may contain further slashes.
func ParseRef(ref string) (bucket, object string, err error) {
	bucket, object, ok := strings.Cut(ref, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidArtifactRef, ref)
	}
	return bucket, object, nil
}

func TextObjectName() string {
	return "text-" + uuid.NewString() + ".txt"
}

func AudioInputObjectName(originalName string) string {
	return "audio-input-" + uuid.NewString() + Extension(originalName)
}

func VideoInputObjectName(originalName string) string {
	return "video-input-" + uuid.NewString() + Extension(originalName)
}

func AudioOutputObjectName() string {
	return "audio-" + uuid.NewString() + ".wav"
}

// VideoOutputObjectName embeds the job id plus a short random suffix.
func VideoOutputObjectName(jobID uint64) string {
	return fmt.Sprintf("video_%d_%s.mp4", jobID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Extension returns the lowercase extension of a client file name, or "" when there is none.
func Extension(name string) string {
	ext := filepath.Ext(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}

// ErrArtifactNotFound is returned by artifact stores when the object or its bucket is missing.
var ErrArtifactNotFound = errors.New("artifact not found")
