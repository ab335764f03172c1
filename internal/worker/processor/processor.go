// Package processor runs one lip-sync request end to end: fetch the uploaded
// inputs, write the task descriptor, run the inference tool while streaming
// its progress, pick up the produced video and clean up after itself.
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"lipsync/internal/config"
	"lipsync/internal/models"
	"lipsync/internal/pkg/errors"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
)

// MsgNoOutput is the run error when the tool left no video behind.
const MsgNoOutput = "Output video not generated"

// finalizeTimeout bounds the store writes after a run, which must happen even
// when the run's own context was canceled.
const finalizeTimeout = 30 * time.Second

type Deps struct {
	Store  ports.RunStore
	SP     ports.StorageProvider
	Broker progress.Broker
	Tool   config.ToolConfig
	Log    *logger.Logger
}

type Processor struct {
	store  ports.RunStore
	broker progress.Broker
	tool   config.ToolConfig
	log    *logger.Logger

	inputHandler  *InputHandler
	launcher      *Launcher
	streamer      *Streamer
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	return &Processor{
		store:  d.Store,
		broker: d.Broker,
		tool:   d.Tool,
		log:    log,

		inputHandler:  NewInputHandler(d.SP),
		launcher:      NewLauncher(d.Tool.Command, d.Tool.Dir),
		streamer:      NewStreamer(d.Tool.ResultSentinel, d.Tool.BenignStderr, log),
		outputHandler: NewOutputHandler(d.SP, d.Tool.Dir),
		cleanup:       NewCleanup(d.SP),
	}
}

// WorkDir is the per-run directory holding inputs, descriptor and results.
func (p *Processor) WorkDir(runID string) string {
	return filepath.Join(p.tool.WorkRoot, runID)
}

// ProcessRun executes a queued run and records its outcome. The returned error
// is the run's failure cause, already recorded on the run.
func (p *Processor) ProcessRun(ctx context.Context, runID string) error {
	ctx = logger.ContextWithRunID(ctx, runID)
	log := p.log.FromContext(ctx)

	run, err := p.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			return errors.NotFound("run", runID)
		}
		return errors.Wrap(err, "processor.fetch", "failed to fetch run")
	}
	if run.Status.Terminal() {
		log.Warn("run already finished, skipping", "status", string(run.Status))
		return nil
	}

	log.Debug("marking run as running")
	if err := p.store.MarkRunning(ctx, runID); err != nil {
		return errors.Wrap(err, "processor.status", "failed to mark run as running")
	}

	rep := progress.NewReporter(runID, p.store, p.broker, p.tool.ProgressFlushInterval, log)
	rep.Status(ctx, models.RunRunning)

	art := &Artifacts{
		WorkDir:    p.WorkDir(runID),
		ObjectKeys: []string{run.VideoKey, run.AudioKey},
	}

	outcome, runErr := p.execute(ctx, run, art, rep)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := p.cleanup.CleanupRun(fctx, art); err != nil {
		log.Warn("cleanup incomplete", "error", err.Error())
	} else {
		log.Debug("cleanup completed")
	}

	return p.finish(fctx, run, outcome, runErr, rep)
}

func (p *Processor) execute(ctx context.Context, run *models.Run, art *Artifacts, rep *progress.Reporter) (models.RunOutcome, error) {
	log := p.log.FromContext(ctx)
	var outcome models.RunOutcome

	// 1. Inputs
	inputsDir := filepath.Join(art.WorkDir, "inputs")
	if err := p.inputHandler.Materialize(ctx, run, inputsDir, art); err != nil {
		return outcome, errors.Wrap(err, "processor.persist", "failed to persist inputs")
	}
	log.Debug("inputs persisted", "video", art.VideoPath, "audio", art.AudioPath)

	// 2. Task descriptor
	descriptor, err := WriteDescriptor(art.WorkDir, art.VideoPath, art.AudioPath)
	if err != nil {
		return outcome, errors.Wrap(err, "processor.descriptor", "failed to write task descriptor")
	}
	art.DescriptorPath = descriptor

	// 3. Launch
	resultDir, err := filepath.Abs(filepath.Join(art.WorkDir, "results"))
	if err != nil {
		return outcome, errors.Wrap(err, "processor.launch", "failed to resolve result dir")
	}

	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	req := LaunchRequest{
		DescriptorPath: descriptor,
		ResultDir:      resultDir,
		BatchSize:      run.BatchSize,
		UseFloat16:     run.UseFloat16,
	}
	proc, err := p.launcher.Launch(runCtx, req)
	if err != nil {
		return outcome, errors.Wrap(err, "processor.launch", "failed to launch inference tool")
	}
	log.Info("inference tool started",
		"pid", proc.PID(),
		"batch_size", run.BatchSize,
		"use_float16", run.UseFloat16,
	)

	// 4. Progress
	res := p.streamer.Stream(ctx, proc, progress.NewTracker(), rep)
	code := res.Exit.Code
	outcome.ExitCode = &code
	outcome.StderrText = models.CleanText(res.StderrPanel)
	log.Info("inference tool exited",
		"exit_code", code,
		"lines", res.Lines,
		"timed_out", res.Exit.TimedOut,
		"stderr_shown", res.StderrPanel != "",
	)
	if res.Exit.Err != nil {
		log.Warn("tool exit not observed cleanly", "error", res.Exit.Err.Error())
	}

	// 5. Result
	resultPath, ok := p.outputHandler.Resolve(ResolveRequest{
		ResultDir:      resultDir,
		VideoName:      run.VideoName,
		AudioName:      run.AudioName,
		PersistedVideo: art.VideoPath,
		PersistedAudio: art.AudioPath,
		SentinelPath:   res.SentinelPath,
	})
	if !ok {
		e := errors.New(errors.CodeResultNotFound, MsgNoOutput).WithField("exit_code", code)
		if res.Exit.TimedOut {
			e.Message = fmt.Sprintf("%s (run timed out after %s)", MsgNoOutput, p.tool.RunTimeout)
		}
		return outcome, e
	}

	name := ResultName(run.VideoName, run.AudioName)
	key, err := p.outputHandler.Archive(ctx, run.ID, resultPath, name)
	if err != nil {
		return outcome, errors.Wrap(err, "processor.result", "failed to archive result video")
	}
	log.Debug("result archived", "path", resultPath, "key", key)

	outcome.Status = models.RunSucceeded
	outcome.ResultKey = key
	outcome.ResultName = name
	return outcome, nil
}

func (p *Processor) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.tool.RunTimeout > 0 {
		return context.WithTimeout(ctx, p.tool.RunTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) finish(ctx context.Context, run *models.Run, outcome models.RunOutcome, runErr error, rep *progress.Reporter) error {
	log := p.log.FromContext(ctx)

	if runErr != nil {
		outcome.Status = models.RunFailed
		outcome.ErrorText = models.CleanText(userMessage(runErr))

		var appErr *errors.Error
		if errors.As(runErr, &appErr) {
			log.Error("run failed",
				"code", string(appErr.Code),
				"op", appErr.Op,
				"message", outcome.ErrorText,
			)
		} else {
			log.Error("run failed", "error", outcome.ErrorText)
		}
	}

	rep.Flush(ctx)
	if err := p.store.Finish(ctx, run.ID, outcome); err != nil {
		log.LogError(ctx, "failed to record run outcome", err)
		if runErr == nil {
			runErr = errors.Wrap(err, "processor.finish", "failed to record run outcome")
		}
	}

	if final, err := p.store.Get(ctx, run.ID); err == nil {
		rep.Finished(ctx, final)
	}

	if runErr == nil {
		log.Info("run succeeded", "result", outcome.ResultName)
	}
	return runErr
}

// userMessage is the text stored on a failed run: the error's message and its
// cause, without op and code decoration.
func userMessage(err error) string {
	var appErr *errors.Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if appErr.Err == nil {
		return appErr.Message
	}
	return appErr.Message + ": " + appErr.Err.Error()
}
