// Package pipeline runs the incremental acquisition of every region below an
// input root: discover, normalize, search, plan, then fetch on a bounded pool.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/fieldscenes/internal/catalog"
	"github.com/robert-malhotra/fieldscenes/internal/config"
	"github.com/robert-malhotra/fieldscenes/internal/executor"
	"github.com/robert-malhotra/fieldscenes/internal/geom"
	"github.com/robert-malhotra/fieldscenes/internal/layout"
	"github.com/robert-malhotra/fieldscenes/internal/metrics"
	"github.com/robert-malhotra/fieldscenes/internal/planner"
	"github.com/robert-malhotra/fieldscenes/internal/region"
	"github.com/robert-malhotra/fieldscenes/internal/runlog"
)

// Searcher queries the scene catalog.
type Searcher interface {
	Search(ctx context.Context, q catalog.Query) iter.Seq2[catalog.Scene, error]
}

// Input names what one run works on.
type Input struct {
	InputDir  string
	OutputDir string
	// Start and End are inclusive calendar days.
	Start time.Time
	End   time.Time
	// DryRun plans and logs targets without fetching.
	DryRun bool
}

// Summary reports the outcome of a run.
type Summary struct {
	Regions       int
	RegionsFailed int
	Planned       int
	Fetched       int
	Skipped       int
	Failed        int
	// Err aggregates every region and target failure.
	Err error
}

// Clean reports whether nothing failed.
func (s *Summary) Clean() bool {
	return s.RegionsFailed == 0 && s.Failed == 0
}

// Pipeline wires the acquisition components for one configuration.
type Pipeline struct {
	cfg      *config.Config
	searcher Searcher
	fetcher  executor.Fetcher
	runlog   *runlog.Log
	metrics  *metrics.Recorder
	colls    *config.CollectionRegistry
	logger   *slog.Logger
}

// New creates a pipeline. log receives every target outcome.
func New(cfg *config.Config, searcher Searcher, fetcher executor.Fetcher, log *runlog.Log) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		searcher: searcher,
		fetcher:  fetcher,
		runlog:   log,
		colls:    config.DefaultCollections(),
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom diagnostic logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithCollections sets the registry used to resolve processing data types.
func (p *Pipeline) WithCollections(reg *config.CollectionRegistry) *Pipeline {
	p.colls = reg
	return p
}

// WithMetrics records run metrics into m.
func (p *Pipeline) WithMetrics(m *metrics.Recorder) *Pipeline {
	p.metrics = m
	return p
}

// Run processes every region below in.InputDir. The returned error is set
// only when the run could not start; region and target failures are
// reported in Summary.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Summary, error) {
	if in.End.Before(in.Start) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			in.End.Format(catalog.DateLayout), in.Start.Format(catalog.DateLayout))
	}

	acq := p.cfg.Acquisition
	policy, err := planner.ParsePolicy(acq.ResolvedTieBreak())
	if err != nil {
		return nil, err
	}

	out := layout.New(in.OutputDir, layout.Naming(acq.Naming))
	if !in.DryRun {
		if err := out.CleanStaging(); err != nil {
			return nil, err
		}
	}

	sources, err := region.Discover(in.InputDir, acq.Extensions)
	if err != nil {
		return nil, err
	}
	sources = excludeOutput(sources, in.OutputDir)

	p.logger.InfoContext(ctx, "discovered regions",
		slog.Int("count", len(sources)),
		slog.String("input", in.InputDir),
	)

	r := &run{
		Pipeline: p,
		in:       in,
		layout:   out,
		planner:  planner.New(policy, out, acq.Bands),
		normalizer: geom.Normalizer{
			Resolution: acq.Resolution,
			Buffer:     acq.Buffer,
			RoundStep:  acq.RoundStep,
			MaxPixels:  acq.MaxPixels,
		},
		summary: &Summary{Regions: len(sources)},
	}

	var jobs []executor.Job
	for _, src := range sources {
		jobs = append(jobs, r.planRegion(ctx, src)...)
	}

	if !in.DryRun && len(jobs) > 0 {
		r.execute(ctx, jobs)
	}

	p.logger.InfoContext(ctx, "run finished",
		slog.Int("regions", r.summary.Regions),
		slog.Int("regions_failed", r.summary.RegionsFailed),
		slog.Int("fetched", r.summary.Fetched),
		slog.Int("skipped", r.summary.Skipped),
		slog.Int("failed", r.summary.Failed),
	)
	return r.summary, nil
}

// run holds the state of one Run call.
type run struct {
	*Pipeline
	in         Input
	layout     *layout.Layout
	planner    *planner.Planner
	normalizer geom.Normalizer

	mu      sync.Mutex
	summary *Summary
	errs    *multierror.Error
}

// planRegion loads, normalizes, searches, and plans one region. Region
// failures are logged and yield no jobs.
func (r *run) planRegion(ctx context.Context, src region.Source) []executor.Job {
	reg, fp, scenes, err := r.searchRegion(ctx, src)
	if err != nil {
		r.regionFailed(src.RelPath, err)
		return nil
	}
	r.metrics.Region("ok")

	if len(scenes) == 0 {
		r.runlog.NoScenes(reg.Key())
		return nil
	}

	plan := r.planner.Plan(reg, scenes)
	for _, t := range plan.Existing {
		r.runlog.Skipped(ref(t))
		r.metrics.Target("skipped")
		r.summary.Skipped++
	}

	jobs := make([]executor.Job, 0, len(plan.Targets))
	for _, t := range plan.Targets {
		r.summary.Planned++
		if r.in.DryRun {
			r.runlog.Planned(ref(t))
		}
		jobs = append(jobs, executor.Job{Target: t, Footprint: fp})
	}

	r.logger.DebugContext(ctx, "region planned",
		slog.String("region", reg.Key()),
		slog.Int("scenes", len(scenes)),
		slog.Int("targets", len(plan.Targets)),
		slog.Int("existing", len(plan.Existing)),
	)
	return jobs
}

func (r *run) searchRegion(ctx context.Context, src region.Source) (*region.Region, *geom.Footprint, []catalog.Scene, error) {
	reg, err := region.Load(src)
	if err != nil {
		return nil, nil, nil, err
	}

	fp, err := r.normalizer.Normalize(reg.Geometry, reg.CRS, 0)
	if err != nil {
		return nil, nil, nil, err
	}

	q := catalog.Query{
		Collection: r.cfg.Catalog.Collection,
		Start:      r.in.Start,
		End:        r.in.End,
		Limit:      r.cfg.Catalog.PageSize,
	}
	if r.cfg.Catalog.SearchMode == "geometry" {
		q.Intersects = fp.Geographic
	} else {
		b := fp.GeographicBound
		q.BBox = []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
	}
	if cc := r.cfg.Catalog.MaxCloudCover; cc < 100 {
		q.MaxCloudCover = &cc
	}

	scenes, err := catalog.Collect(r.searcher.Search(ctx, q))
	r.metrics.CatalogRequest(err)
	if err != nil {
		return nil, nil, nil, err
	}
	return reg, fp, scenes, nil
}

func (r *run) regionFailed(key string, err error) {
	r.runlog.RegionFailed(key, err)
	r.metrics.Region("failed")
	r.summary.RegionsFailed++
	r.errs = multierror.Append(r.errs, fmt.Errorf("region %s: %w", key, err))
	r.summary.Err = r.errs.ErrorOrNil()
}

// execute runs jobs on a pool of Workers. Workers never return errors so one
// failing target cannot cancel its siblings.
func (r *run) execute(ctx context.Context, jobs []executor.Job) {
	acq := r.cfg.Acquisition
	exec := executor.New(r.fetcher, r.layout, executor.Options{
		Collection:      r.collection(),
		MosaickingOrder: acq.MosaickingOrder,
		Bands:           acq.BandSpec(),
		Clip:            acq.Clip,
	}).WithLogger(r.logger)

	workers := acq.Workers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, job := range jobs {
		g.Go(func() error {
			res := exec.Execute(ctx, job)
			r.record(res)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) record(res executor.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.Fetch(res.Duration)
	if res.Err != nil {
		r.runlog.Failed(ref(res.Target), res.Err)
		r.metrics.Target("failed")
		r.summary.Failed++
		r.errs = multierror.Append(r.errs, fmt.Errorf("target %s: %w", res.Target.Key(), res.Err))
		r.summary.Err = r.errs.ErrorOrNil()
		return
	}
	r.runlog.Fetched(ref(res.Target), len(res.Files), res.Duration)
	r.metrics.Target("fetched")
	r.summary.Fetched++
}

// collection returns the processing data type for the configured collection.
func (r *run) collection() string {
	id := r.cfg.Catalog.Collection
	if coll := r.colls.Get(id); coll != nil {
		return coll.ProcessDataType()
	}
	return id
}

func ref(t planner.Target) runlog.Ref {
	return runlog.Ref{Region: t.Region.Key(), Date: t.Date, Scene: t.Scene.ID}
}

// excludeOutput drops sources inside the output tree, which happens when the
// output root is nested in the input root.
func excludeOutput(sources []region.Source, outputDir string) []region.Source {
	outAbs, err := filepath.Abs(outputDir)
	if err != nil {
		return sources
	}
	kept := sources[:0]
	for _, s := range sources {
		abs, err := filepath.Abs(s.Path)
		if err == nil && (abs == outAbs || strings.HasPrefix(abs, outAbs+string(filepath.Separator))) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
