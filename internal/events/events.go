// Package events publishes job progress to a Redis stream so other
// processes can follow running simulations.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/jobs"
)

const (
	TypeTimestep = "timestep"
	TypeStatus   = "status"

	// DefaultMaxLen bounds the stream; trimming is approximate.
	DefaultMaxLen = 10000
)

// Event is one decoded stream entry.
type Event struct {
	ID        string
	Type      string
	JobID     string
	Timestep  *jobs.Timestep
	Status    *jobs.StatusUpdate
	Published time.Time
}

// StreamClient is the subset of *redis.Client the publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
}

// Publisher implements jobs.Observer on top of a Redis stream.
type Publisher struct {
	client StreamClient
	stream string
	maxLen int64
	log    *zap.Logger
	closer func() error
}

func NewPublisher(client StreamClient, stream string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, stream: stream, maxLen: DefaultMaxLen, log: log}
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(addr, password string, db int, stream string, log *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	p := NewPublisher(client, stream, log)
	p.closer = client.Close
	p.log.Info("event stream ready", zap.String("addr", addr), zap.String("stream", stream))
	return p, nil
}

func (p *Publisher) Stream() string { return p.stream }

func (p *Publisher) OnTimestep(ctx context.Context, ts jobs.Timestep) error {
	return p.publish(ctx, TypeTimestep, ts.JobID, ts)
}

func (p *Publisher) OnStatus(ctx context.Context, u jobs.StatusUpdate) error {
	return p.publish(ctx, TypeStatus, u.JobID, u)
}

func (p *Publisher) publish(ctx context.Context, kind, jobID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":          kind,
			"simulation_id": jobID,
			"data":          string(data),
			"created":       time.Now().UnixNano(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", kind, jobID, err)
	}

	p.log.Debug("event published", zap.String("type", kind), zap.String("simulation_id", jobID), zap.String("id", id))
	return nil
}

// Follow reads events newer than from ("$" for only new ones) and calls fn
// for each until ctx is done or fn returns an error. Events of other jobs
// are skipped when jobID is set.
func (p *Publisher) Follow(ctx context.Context, jobID, from string, fn func(Event) error) error {
	if from == "" {
		from = "$"
	}
	for {
		streams, err := p.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{p.stream, from},
			Count:   100,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("read stream %s: %w", p.stream, err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				from = msg.ID
				ev, err := Decode(msg)
				if err != nil {
					p.log.Warn("skipping malformed event", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				if jobID != "" && ev.JobID != jobID {
					continue
				}
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
	}
}

// Decode parses a stream entry written by the publisher.
func Decode(msg redis.XMessage) (Event, error) {
	ev := Event{ID: msg.ID}
	ev.Type, _ = msg.Values["type"].(string)
	ev.JobID, _ = msg.Values["simulation_id"].(string)
	data, _ := msg.Values["data"].(string)

	switch ev.Type {
	case TypeTimestep:
		ev.Timestep = new(jobs.Timestep)
		if err := json.Unmarshal([]byte(data), ev.Timestep); err != nil {
			return ev, fmt.Errorf("decode timestep: %w", err)
		}
	case TypeStatus:
		ev.Status = new(jobs.StatusUpdate)
		if err := json.Unmarshal([]byte(data), ev.Status); err != nil {
			return ev, fmt.Errorf("decode status: %w", err)
		}
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if ns, ok := msg.Values["created"].(string); ok {
		if n, err := strconv.ParseInt(ns, 10, 64); err == nil {
			ev.Published = time.Unix(0, n).UTC()
		}
	}
	return ev, nil
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
