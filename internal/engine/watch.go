package engine

import (
	"context"
	"sync"
	"time"

	"github.com/poltergeist/matrixgen/pkg/config"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// WatchFunc observes every regeneration in watch mode
type WatchFunc func(*Result, error)

// Watch generates once, then regenerates whenever the pipeline or one of
// its matrix files changes, until ctx is cancelled. Regenerations never
// overlap.
func (g *Generator) Watch(ctx context.Context, opts Options, debounce time.Duration, observe WatchFunc) error {
	var mu sync.Mutex
	run := func(loadErr error) {
		mu.Lock()
		defer mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		var (
			result *Result
			err    = loadErr
		)
		if err == nil {
			result, err = g.Generate(ctx, opts)
		}
		g.report(opts.ConfigPath, result, err)
		if observe != nil {
			observe(result, err)
		}
	}

	reload := config.NewReloadManager(opts.ConfigPath, g.loader, g.logger)
	if debounce > 0 {
		reload.SetDebouncePeriod(debounce)
	}
	reload.AddCallback(func(_ *types.PipelineConfig, err error) {
		run(err)
	})

	if err := reload.StartWatching(); err != nil {
		return err
	}
	defer reload.StopWatching()

	g.logger.Info("Watching pipeline for changes",
		logger.WithField("pipeline", opts.ConfigPath),
		logger.WithField("files", len(reload.WatchedFiles())))

	run(nil)

	<-ctx.Done()
	g.logger.Info("Stopped watching", logger.WithField("pipeline", opts.ConfigPath))
	return nil
}

func (g *Generator) report(pipeline string, result *Result, err error) {
	if err != nil {
		g.logger.Error("Regeneration failed", logger.WithField("error", err))
	}
	if g.deps.Notifier == nil {
		return
	}
	if err != nil {
		g.deps.Notifier.NotifyFailed(pipeline, err)
		return
	}
	g.deps.Notifier.NotifyGenerated(pipeline, result.Jobs, result.Duration)
}
