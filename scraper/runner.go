package scraper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRetention = time.Hour
	maxOutputLines   = 500
)

// RunnerConfig describes how to launch the scraper script.
type RunnerConfig struct {
	Python     string        // Interpreter, e.g. "python3"
	Script     string        // Path to the scraper script
	OutputDir  string        // Where per-run CSV files are written
	Timeout    time.Duration // Upper bound for one run
	Retention  time.Duration // How long finished runs stay queryable
	MaxWorkers int           // Default when Params.MaxWorkers is zero
}

type runState struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes the scraper as a local subprocess and tracks runs by ID.
type Runner struct {
	logger *slog.Logger
	runs   map[string]*runState
	now    func() time.Time
	cfg    RunnerConfig
	mu     sync.Mutex
}

// NewRunner creates a local executor.
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*runState),
		now:    time.Now,
	}
}

// Args builds the scraper command line for p, writing to output.
func (r *Runner) Args(p Params, output string) ([]string, error) {
	args := []string{r.cfg.Script}
	if len(p.Keywords) > 0 {
		b, err := json.Marshal(p.Keywords)
		if err != nil {
			return nil, fmt.Errorf("encode keywords: %w", err)
		}
		args = append(args, "--keywords", string(b))
	}
	if len(p.Sources) > 0 {
		b, err := json.Marshal(p.Sources)
		if err != nil {
			return nil, fmt.Errorf("encode sources: %w", err)
		}
		args = append(args, "--sources", string(b))
	}
	if len(p.TwitterUsers) > 0 {
		b, err := json.Marshal(p.TwitterUsers)
		if err != nil {
			return nil, fmt.Errorf("encode twitter users: %w", err)
		}
		args = append(args, "--twitter-users", string(b))
	}
	args = append(args, "--output", output)

	workers := p.MaxWorkers
	if workers <= 0 {
		workers = r.cfg.MaxWorkers
	}
	if workers > 0 {
		args = append(args, "--max-workers", strconv.Itoa(workers))
	}
	if p.ValidateLinks {
		args = append(args, "--validate-links")
	}
	if p.TodayOnly {
		args = append(args, "--today-only")
	}
	if p.DeepScrape {
		args = append(args, "--deep-scrape")
	}
	return args, nil
}

// Execute starts a run and returns its ID immediately. The run is not tied to ctx.
func (r *Runner) Execute(_ context.Context, p Params) (string, error) {
	r.prune()

	if err := os.MkdirAll(r.cfg.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	id := uuid.NewString()
	csvPath := filepath.Join(r.cfg.OutputDir, id+".csv")
	args, err := r.Args(p, csvPath)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	cmd := exec.CommandContext(runCtx, r.cfg.Python, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("start scraper: %w", err)
	}

	st := &runState{
		run: Run{
			ID:        id,
			Status:    StatusRunning,
			CSVPath:   csvPath,
			StartedAt: r.now(),
			Output:    []string{},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.runs[id] = st
	r.mu.Unlock()

	r.logger.Info("Scraper run started",
		"run_id", id,
		"pid", cmd.Process.Pid,
		"keywords", len(p.Keywords),
		"sources", len(p.Sources))

	var wg sync.WaitGroup
	wg.Add(2)
	go r.capture(&wg, st, stdout, "")
	go r.capture(&wg, st, stderr, "ERROR: ")

	go func() {
		defer close(st.done)
		defer cancel()
		wg.Wait()
		waitErr := cmd.Wait()
		r.finish(st, waitErr, runCtx.Err())
	}()

	return id, nil
}

func (r *Runner) capture(wg *sync.WaitGroup, st *runState, rd io.Reader, prefix string) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		r.mu.Lock()
		st.run.Output = append(st.run.Output, prefix+line)
		if len(st.run.Output) > maxOutputLines {
			st.run.Output = st.run.Output[len(st.run.Output)-maxOutputLines:]
		}
		r.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		r.logger.Warn("Reading scraper output failed", "run_id", st.run.ID, "error", err)
	}
}

func (r *Runner) finish(st *runState, waitErr, ctxErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	finished := r.now()
	st.run.FinishedAt = &finished
	st.run.Progress = 100

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		st.run.Status = StatusCompleted
	case errors.Is(ctxErr, context.DeadlineExceeded):
		st.run.Status = StatusError
		st.run.Error = fmt.Sprintf("script timed out after %s", r.cfg.Timeout)
	case errors.Is(ctxErr, context.Canceled):
		st.run.Status = StatusError
		st.run.Error = "script cancelled"
	case errors.As(waitErr, &exitErr):
		st.run.Status = StatusError
		st.run.Error = fmt.Sprintf("script exited with code %d", exitErr.ExitCode())
	default:
		st.run.Status = StatusError
		st.run.Error = waitErr.Error()
	}

	r.logger.Info("Scraper run finished",
		"run_id", st.run.ID,
		"status", st.run.Status,
		"error", st.run.Error,
		"duration_ms", finished.Sub(st.run.StartedAt).Milliseconds())
}

// Status returns a snapshot of the run.
func (r *Runner) Status(_ context.Context, runID string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	run := st.run
	run.Output = append([]string(nil), st.run.Output...)
	return &run, nil
}

// CSV returns the raw output file of a completed run.
func (r *Runner) CSV(ctx context.Context, runID string) ([]byte, error) {
	run, err := r.Status(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusCompleted {
		return nil, fmt.Errorf("run %s is %s", runID, run.Status)
	}
	data, err := os.ReadFile(run.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	return data, nil
}

// Wait blocks until the run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, runID string) (*Run, error) {
	r.mu.Lock()
	st, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	select {
	case <-st.done:
		return r.Status(ctx, runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a running run.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	st.cancel()
	return nil
}

// Close cancels every run still in progress.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.runs {
		if !st.run.Finished() {
			st.cancel()
		}
	}
}

// prune forgets finished runs older than the retention period and removes their CSV files.
func (r *Runner) prune() {
	cutoff := r.now().Add(-r.cfg.Retention)
	r.mu.Lock()
	var stale []string
	for id, st := range r.runs {
		if st.run.FinishedAt != nil && st.run.FinishedAt.Before(cutoff) {
			stale = append(stale, st.run.CSVPath)
			delete(r.runs, id)
		}
	}
	r.mu.Unlock()

	for _, p := range stale {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Failed to remove old scraper output", "path", p, "error", err)
		}
	}
	if len(stale) > 0 {
		r.logger.Info("Pruned finished scraper runs", "count", len(stale))
	}
}
