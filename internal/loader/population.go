package loader

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hochat/internal/assetcache"
	"hochat/internal/engine"
)

// PopulationStats counts the outcome of each manifest file.
type PopulationStats struct {
	Written int64
	Skipped int64
	Failed  int64
}

// Population is a background task copying network files into the asset
// cache tier after a slow-path load became ready.
type Population struct {
	ID      string
	ModelID string

	cancel context.CancelFunc
	done   chan struct{}

	written atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// Done is closed when the task has finished.
func (p *Population) Done() <-chan struct{} { return p.done }

// Wait blocks until the task finishes or ctx ends.
func (p *Population) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the task; files already written stay.
func (p *Population) Cancel() { p.cancel() }

func (p *Population) Stats() PopulationStats {
	return PopulationStats{Written: p.written.Load(), Skipped: p.skipped.Load(), Failed: p.failed.Load()}
}

type populateJob struct {
	tier        assetcache.Tier
	dir         *assetcache.Directory
	src         engine.Source
	files       []string
	concurrency int
	log         zerolog.Logger
}

// run never returns an error: per-file failures are logged, counted and
// skipped, and not retried.
func (p *Population) run(ctx context.Context, job populateJob) {
	defer close(p.done)
	defer p.cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, job.concurrency))
	for _, name := range job.files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.populateOne(gctx, job, name)
			return nil
		})
	}
	_ = g.Wait()

	st := p.Stats()
	job.log.Info().
		Str("population", p.ID).
		Str("model", p.ModelID).
		Int64("written", st.Written).
		Int64("skipped", st.Skipped).
		Int64("failed", st.Failed).
		Bool("canceled", ctx.Err() != nil).
		Msg("population_done")
}

func (p *Population) populateOne(ctx context.Context, job populateJob, name string) {
	if ctx.Err() != nil {
		return
	}
	existing, err := job.tier.ReadFile(ctx, job.dir, name)
	if err == nil && existing != nil {
		p.skipped.Add(1)
		populationFilesTotal.WithLabelValues("skipped").Inc()
		return
	}
	rc, err := job.src.Open(ctx, name)
	if err != nil {
		p.fail(ctx, job, name, err)
		return
	}
	defer rc.Close()
	if err := job.tier.WriteFile(ctx, job.dir, name, rc); err != nil {
		p.fail(ctx, job, name, err)
		return
	}
	p.written.Add(1)
	populationFilesTotal.WithLabelValues("written").Inc()
	job.log.Debug().Str("model", p.ModelID).Str("file", name).Msg("population_file_written")
}

func (p *Population) fail(ctx context.Context, job populateJob, name string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.failed.Add(1)
	populationFilesTotal.WithLabelValues("failed").Inc()
	job.log.Warn().Err(err).Str("model", p.ModelID).Str("file", name).Msg("population_file_failed")
}
