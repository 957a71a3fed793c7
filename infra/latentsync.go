package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

// commandContext is swapped in tests.
var commandContext = exec.CommandContext

// stderrTail is how much of the runner's stderr ends up in the error.
const stderrTail = 2048

// LatentSyncRunner drives the lip-sync inference script as a child process.
type LatentSyncRunner struct {
	Python   string
	WorkDir  string
	Module   string
	Timeout  time.Duration
	Defaults entity.VideoParams
}

func InitLatentSyncRunner(cfg *config.EnvConfig) *LatentSyncRunner {
	return &LatentSyncRunner{
		Python:  cfg.LatentSync.Python,
		WorkDir: cfg.LatentSync.WorkDir,
		Module:  cfg.LatentSync.Module,
		Timeout: cfg.LatentSync.Timeout,
		Defaults: entity.VideoParams{
			UnetConfigPath: cfg.LatentSync.UnetConfigPath,
			CheckpointPath: cfg.LatentSync.CheckpointPath,
			InferenceSteps: cfg.LatentSync.InferenceSteps,
			GuidanceScale:  cfg.LatentSync.GuidanceScale,
		},
	}
}

// Args builds the inference command line for one run.
func (r *LatentSyncRunner) Args(req entity.VideoRequest) []string {
	params := req.Params.WithDefaults(r.Defaults)

	args := []string{
		"-m", r.Module,
		"--unet_config_path", params.UnetConfigPath,
		"--inference_ckpt_path", params.CheckpointPath,
		"--inference_steps", strconv.Itoa(params.InferenceSteps),
		"--guidance_scale", strconv.FormatFloat(params.GuidanceScale, 'f', -1, 64),
		"--audio_path", req.AudioPath,
	}
	if req.VideoPath != "" {
		args = append(args, "--video_path", req.VideoPath)
	}
	return append(args, "--video_out_path", req.OutputPath)
}

// GenerateVideo runs the script and checks that it produced a non-empty output file.
// The context bounds the run; cancelling it kills the process.
func (r *LatentSyncRunner) GenerateVideo(ctx context.Context, req entity.VideoRequest) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := commandContext(ctx, r.Python, r.Args(req)...)
	cmd.Dir = r.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONPATH="+r.pythonPath())

	stderr := &tailWriter{limit: 2 * stderrTail}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("lip-sync inference aborted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("lip-sync inference exited with code %d: %s", exitErr.ExitCode(), tail(stderr.String(), stderrTail))
		}
		return fmt.Errorf("failed to start lip-sync inference: %w", err)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("lip-sync inference produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("lip-sync inference produced an empty output file")
	}

	return nil
}

func (r *LatentSyncRunner) pythonPath() string {
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		return r.WorkDir + string(os.PathListSeparator) + existing
	}
	return r.WorkDir
}

// tailWriter keeps only the last limit bytes written to it.
type tailWriter struct {
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	if len(p) >= w.limit {
		w.buf = append(w.buf[:0], p[len(p)-w.limit:]...)
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.buf)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
