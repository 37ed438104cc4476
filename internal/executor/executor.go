// Package executor fetches one acquisition target and materializes its band
// files into the output layout.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robert-malhotra/fieldscenes/internal/geom"
	"github.com/robert-malhotra/fieldscenes/internal/layout"
	"github.com/robert-malhotra/fieldscenes/internal/planner"
	"github.com/robert-malhotra/fieldscenes/internal/process"
)

// Fetcher sends one process request and writes the payload to w.
type Fetcher interface {
	Fetch(ctx context.Context, req process.Request, w io.Writer) (*process.Payload, error)
}

// Options are the request parameters shared by every target of a run.
type Options struct {
	Collection      string
	MosaickingOrder string
	Bands           process.BandSpec
	// Clip restricts output pixels to the region geometry.
	Clip bool
}

// Job is a planned target together with its normalized footprint.
type Job struct {
	planner.Target
	Footprint *geom.Footprint
}

// Result is the outcome of one target.
type Result struct {
	Target   planner.Target
	Dir      string
	Files    []string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Executor materializes targets. It is safe for concurrent use; each
// Execute call works in its own staging directory.
type Executor struct {
	fetcher Fetcher
	layout  *layout.Layout
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an executor.
func New(fetcher Fetcher, l *layout.Layout, opts Options) *Executor {
	return &Executor{
		fetcher: fetcher,
		layout:  l,
		opts:    opts,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithLogger sets a custom logger for the executor.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// Execute fetches the target into a private staging directory, unpacks it,
// moves each band to its canonical name, and writes the completion marker
// last. Failures are returned in Result.Err and leave no marker behind.
func (e *Executor) Execute(ctx context.Context, job Job) Result {
	start := e.now()
	res := Result{Target: job.Target}
	res.Err = e.execute(ctx, job, &res)
	res.Duration = e.now().Sub(start)
	return res
}

func (e *Executor) execute(ctx context.Context, job Job, res *Result) error {
	if job.Footprint == nil {
		return fmt.Errorf("target %s has no footprint", job.Key())
	}

	staging, err := e.layout.NewStaging()
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			e.logger.WarnContext(ctx, "failed to remove staging directory",
				slog.String("dir", staging),
				slog.String("error", err.Error()),
			)
		}
	}()

	req := process.Request{
		Collection:      e.opts.Collection,
		BBox:            job.Footprint.BBox,
		Width:           job.Footprint.Width,
		Height:          job.Footprint.Height,
		Day:             job.Day,
		MosaickingOrder: e.opts.MosaickingOrder,
		Bands:           e.opts.Bands,
	}
	if e.opts.Clip {
		req.Clip = job.Footprint.Projected
	}

	payloadPath := filepath.Join(staging, "response")
	payload, err := e.fetchTo(ctx, req, payloadPath)
	if err != nil {
		return err
	}
	res.Bytes = payload.Bytes

	unpacked := filepath.Join(staging, "bands")
	if err := os.Mkdir(unpacked, 0o755); err != nil {
		return fmt.Errorf("failed to create unpack directory: %w", err)
	}
	extracted, err := unpack(payloadPath, payload.ContentType, unpacked, e.opts.Bands.Bands)
	if err != nil {
		return err
	}

	dir := e.layout.DateDir(job.Region, job.Date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	res.Dir = dir

	dests := e.layout.BandPaths(job.Region, job.Scene.ID, job.Date, e.opts.Bands.Bands)
	files := make([]string, 0, len(dests))
	for _, band := range e.opts.Bands.Bands {
		if err := os.Rename(extracted[band], dests[band]); err != nil {
			return fmt.Errorf("failed to move band %s into place: %w", band, err)
		}
		files = append(files, filepath.Base(dests[band]))
	}
	sort.Strings(files)
	res.Files = files

	marker := layout.Marker{
		SceneID:  job.Scene.ID,
		Date:     job.Date,
		Bands:    e.opts.Bands.Bands,
		Files:    files,
		Complete: e.now().UTC(),
	}
	if err := layout.WriteMarker(dir, marker); err != nil {
		return err
	}

	e.logger.DebugContext(ctx, "target materialized",
		slog.String("target", job.Key()),
		slog.String("scene", job.Scene.ID),
		slog.Int("files", len(files)),
		slog.Int64("bytes", payload.Bytes),
	)
	return nil
}

func (e *Executor) fetchTo(ctx context.Context, req process.Request, dst string) (*process.Payload, error) {
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	payload, err := e.fetcher.Fetch(ctx, req, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		return nil, fmt.Errorf("failed to write staging file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
