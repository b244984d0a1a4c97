package extractpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"chipscore/internal/analysis"
	"chipscore/internal/services"
	"chipscore/internal/wavio"
)

// subprocessRunner re-execs the current binary as a worker process. The
// runner is single-flight: the pool never issues a second Run before the
// first returns.
type subprocessRunner struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	scanner      *bufio.Scanner
	tempDir      string
	analysisRate int
	nextID       int64
	broken       bool
}

// SubprocessFactory returns a factory that spawns worker processes running
// the given subcommand of the current executable.
func SubprocessFactory(analysisRate int, workerCommand string) RunnerFactory {
	return func() (Runner, error) {
		return startSubprocess(analysisRate, workerCommand)
	}
}

func startSubprocess(analysisRate int, workerCommand string) (*subprocessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	tempDir, err := os.MkdirTemp("", "chipscore-extract-*")
	if err != nil {
		return nil, fmt.Errorf("worker temp dir: %w", err)
	}

	cmd := exec.Command(exe, workerCommand)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("start worker: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &subprocessRunner{
		cmd:          cmd,
		stdin:        stdin,
		scanner:      scanner,
		tempDir:      tempDir,
		analysisRate: analysisRate,
	}, nil
}

func (r *subprocessRunner) Run(ctx context.Context, job Job) (analysis.FeatureVector, error) {
	if r.broken {
		return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "worker process",
			"runner already failed", nil)
	}

	r.nextID++
	wavPath := filepath.Join(r.tempDir, fmt.Sprintf("job-%d.wav", r.nextID))
	if err := wavio.WriteFile(wavPath, job.Samples, job.SampleRate); err != nil {
		return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "stage job audio", "", err)
	}
	defer os.Remove(wavPath)

	reqLine, err := json.Marshal(workerRequest{
		ID:           r.nextID,
		WavPath:      wavPath,
		Key:          job.Key,
		Engine:       job.Engine,
		AnalysisRate: r.analysisRate,
	})
	if err != nil {
		return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "encode job", "", err)
	}
	if _, err := r.stdin.Write(append(reqLine, '\n')); err != nil {
		r.broken = true
		return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "worker process",
			"worker rejected job", err)
	}

	type readResult struct {
		resp workerResponse
		err  error
	}
	replies := make(chan readResult, 1)
	go func() {
		if !r.scanner.Scan() {
			err := r.scanner.Err()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			replies <- readResult{err: err}
			return
		}
		var resp workerResponse
		if err := json.Unmarshal(r.scanner.Bytes(), &resp); err != nil {
			replies <- readResult{err: err}
			return
		}
		replies <- readResult{resp: resp}
	}()

	select {
	case <-ctx.Done():
		// The worker is stuck in this job; kill it so the reply can never
		// land in a later job's read.
		r.broken = true
		_ = r.cmd.Process.Kill()
		return analysis.FeatureVector{}, services.Wrap(services.ErrTimeout, "extracting", "worker job",
			"job exceeded extraction timeout", ctx.Err())
	case reply := <-replies:
		if reply.err != nil {
			r.broken = true
			return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "worker process",
				"worker exited mid-job", reply.err)
		}
		if reply.resp.ID != r.nextID {
			r.broken = true
			return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "worker process",
				fmt.Sprintf("response id %d does not match job %d", reply.resp.ID, r.nextID), nil)
		}
		if reply.resp.Error != "" {
			return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "feature extraction",
				reply.resp.Error, nil)
		}
		if reply.resp.Features == nil {
			r.broken = true
			return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "worker process",
				"response carries neither features nor error", nil)
		}
		return *reply.resp.Features, nil
	}
}

func (r *subprocessRunner) Healthy() bool { return !r.broken }

// Close retires the worker: closing stdin ends its serve loop, and a stuck
// process is killed after a grace period.
func (r *subprocessRunner) Close() error {
	_ = r.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = r.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = r.cmd.Process.Kill()
		<-done
	}
	return os.RemoveAll(r.tempDir)
}
