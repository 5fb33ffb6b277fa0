package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Event is one outcome notification published as a cell or study
// transitions.
type Event struct {
	StudyID   string `json:"studyId"`
	JobID     string `json:"jobId,omitempty"`
	SurfaceID string `json:"surfaceId,omitempty"`
	Status    string `json:"status"`
}

// Publisher fans outcome Events out to subscribers of a study.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Broker is an in-process Publisher: a mutex-guarded slice of channels,
// used when no Redis client is wired. Each Subscribe call gets its own
// buffered channel; a slow or abandoned subscriber drops events rather
// than blocking publication.
type Broker struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBroker returns an empty in-process Broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Subscribe returns a channel that receives every future Event.
func (b *Broker) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// RedisPublisher publishes Events to a per-study Redis pub/sub channel, for
// fan-out to subscribers running in other processes.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher constructs a RedisPublisher over client.
func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish implements Publisher. It publishes synchronously on the caller's
// goroutine and logs a publish failure rather than propagating it —
// outcome fan-out is best-effort.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encoding study event", "error", err)
		return
	}
	channel := "bentham:study:" + ev.StudyID + ":events"
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Error("publishing study event", "channel", channel, "error", err)
	}
}
