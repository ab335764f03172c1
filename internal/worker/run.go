// Package worker pulls run ids off the queue and hands them to the processor.
package worker

import (
	"context"
	"sync"
	"time"

	"lipsync/internal/pkg/logger"
	"lipsync/internal/worker/processor"
)

const popRetryDelay = time.Second

// Run processes queued runs until ctx is canceled. With Concurrency > 1 it
// runs that many independent pop loops; each run has its own work dir.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	p := processor.New(processor.Deps{
		Store:  d.Store,
		SP:     d.SP,
		Broker: d.Broker,
		Tool:   d.Tool,
		Log:    log,
	})

	n := d.Concurrency
	if n < 1 {
		n = 1
	}
	log.Info("worker started", "concurrency", n, "work_root", d.Tool.WorkRoot)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			loop(ctx, d, p, log.WithFields(map[string]any{"slot": slot}))
		}(i)
	}
	wg.Wait()

	log.Info("worker stopped")
	return ctx.Err()
}

func loop(ctx context.Context, d Deps, p *processor.Processor, log *logger.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		runID, err := d.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-time.After(popRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if runID == "" {
			continue
		}

		runCtx := logger.ContextWithRunID(ctx, runID)
		runLog := log.WithRunID(runID)

		runLog.Info("processing run")
		start := time.Now()

		if err := p.ProcessRun(runCtx, runID); err != nil {
			runLog.Error("run failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		} else {
			runLog.Info("run completed",
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
