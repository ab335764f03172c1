package worker

import (
	"lipsync/internal/config"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
	"lipsync/internal/worker/queue"
)

type Deps struct {
	Queue  queue.Queue
	Store  ports.RunStore
	SP     ports.StorageProvider
	Broker progress.Broker
	Tool   config.ToolConfig
	Log    *logger.Logger

	// Concurrency is the number of runs processed at once (min 1).
	Concurrency int
}
