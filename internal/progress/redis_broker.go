package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"lipsync/internal/pkg/logger"
)

// RedisBroker publishes events on per-run Redis pub/sub channels so the API
// and worker can live in different processes.
type RedisBroker struct {
	rdb *redis.Client
	log *logger.Logger
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(rdb *redis.Client, log *logger.Logger) *RedisBroker {
	if log == nil {
		log = logger.NewDefault()
	}
	return &RedisBroker{rdb: rdb, log: log.WithComponent("progress")}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.rdb.Publish(ctx, Channel(ev.RunID), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error) {
	ps := b.rdb.Subscribe(ctx, Channel(runID))
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", Channel(runID), err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("dropping malformed event", "channel", msg.Channel, "error", err.Error())
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}
