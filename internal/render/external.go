package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chipscore/internal/services"
	"chipscore/internal/wavio"
)

// ExternalEngine renders by spawning a configured emulator binary that writes
// a WAV file. Arguments are built from a bounded template; the subprocess
// runs under the caller's deadline and a non-zero exit maps to a structured
// render failure carrying the stderr tail.
type ExternalEngine struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// NewExternalEngine constructs the subprocess engine.
func NewExternalEngine(binary string, args []string, timeout time.Duration) *ExternalEngine {
	return &ExternalEngine{Binary: binary, Args: args, Timeout: timeout}
}

func (e *ExternalEngine) Name() string { return "external" }

func (e *ExternalEngine) Available(ctx context.Context) bool {
	if strings.TrimSpace(e.Binary) == "" {
		return false
	}
	_, err := exec.LookPath(e.Binary)
	return err == nil
}

func (e *ExternalEngine) Render(ctx context.Context, req Request) (*RenderedAudio, error) {
	outDir, err := os.MkdirTemp("", "chipscore-render-*")
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "temp dir", "", err)
	}
	defer os.RemoveAll(outDir)
	outPath := filepath.Join(outDir, "render.wav")

	args := e.expandArgs(req, outPath)

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "rendering", "external emulator",
				fmt.Sprintf("render exceeded wall-clock cap after %s", elapsed.Round(time.Millisecond)), runCtx.Err())
		}
		return nil, services.Wrap(services.ErrRender, "rendering", "external emulator",
			fmt.Sprintf("%s: %s", err, stderrTail(&stderr)), nil)
	}

	samples, rate, err := wavio.ReadFile(outPath)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "read emulator output", "", err)
	}
	if len(samples) == 0 {
		return nil, services.Wrap(services.ErrRender, "rendering", "read emulator output", "emulator produced no samples", nil)
	}

	return &RenderedAudio{
		Samples:    samples,
		SampleRate: rate,
		Channels:   1,
		Duration:   time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)),
		Engine:     e.Name(),
		RenderMode: ModeEmulated,
	}, nil
}

func (e *ExternalEngine) expandArgs(req Request, outPath string) []string {
	replacer := strings.NewReplacer(
		"{source}", req.SourcePath,
		"{subtune}", strconv.Itoa(req.SubIndex),
		"{seconds}", strconv.Itoa(req.MaxSeconds),
		"{rate}", strconv.Itoa(req.SampleRate),
		"{model}", req.ChipModel,
		"{out}", outPath,
	)
	args := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		args = append(args, replacer.Replace(arg))
	}
	return args
}

func stderrTail(buf *bytes.Buffer) string {
	const tailLimit = 400
	s := strings.TrimSpace(buf.String())
	if len(s) > tailLimit {
		s = "..." + s[len(s)-tailLimit:]
	}
	if s == "" {
		return "(no output)"
	}
	return s
}
