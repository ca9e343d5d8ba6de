package events

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/san-kum/cellsim/internal/jobs"
)

type fakeStream struct {
	added   []*redis.XAddArgs
	addErr  error
	batches [][]redis.XMessage
	reads   int
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult(strconv.Itoa(len(f.added))+"-0", nil)
}

// XRead replays what was added, one batch per call, then reports redis.Nil.
func (f *fakeStream) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	if f.reads >= len(f.batches) {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	msgs := f.batches[f.reads]
	f.reads++
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
}

func (f *fakeStream) messages() []redis.XMessage {
	out := make([]redis.XMessage, len(f.added))
	for i, a := range f.added {
		vals := make(map[string]interface{})
		for k, v := range a.Values.(map[string]interface{}) {
			switch x := v.(type) {
			case string:
				vals[k] = x
			case int64:
				vals[k] = strconv.FormatInt(x, 10)
			}
		}
		out[i] = redis.XMessage{ID: strconv.Itoa(i+1) + "-0", Values: vals}
	}
	return out
}

func TestPublishTimestep(t *testing.T) {
	fs := &fakeStream{}
	p := NewPublisher(fs, "cellsim-events", nil)

	ts := jobs.Timestep{JobID: "a", Time: 2, Concentrations: map[string]float64{"ATP": 3.5}}
	if err := p.OnTimestep(context.Background(), ts); err != nil {
		t.Fatalf("OnTimestep: %v", err)
	}
	if len(fs.added) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(fs.added))
	}
	args := fs.added[0]
	if args.Stream != "cellsim-events" || !args.Approx || args.MaxLen != DefaultMaxLen {
		t.Errorf("unexpected args %+v", args)
	}

	ev, err := Decode(fs.messages()[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != TypeTimestep || ev.JobID != "a" {
		t.Errorf("got %+v", ev)
	}
	if ev.Timestep == nil || ev.Timestep.Time != 2 || ev.Timestep.Concentrations["ATP"] != 3.5 {
		t.Errorf("timestep payload lost: %+v", ev.Timestep)
	}
	if ev.Published.IsZero() || time.Since(ev.Published) > time.Minute {
		t.Errorf("bad publish time %v", ev.Published)
	}
}

func TestPublishStatus(t *testing.T) {
	fs := &fakeStream{}
	p := NewPublisher(fs, "s", nil)

	msg := jobs.CancelMessage
	if err := p.OnStatus(context.Background(), jobs.StatusUpdate{JobID: "b", Status: jobs.StatusCancelled, ErrorMessage: &msg}); err != nil {
		t.Fatalf("OnStatus: %v", err)
	}
	ev, err := Decode(fs.messages()[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Status == nil || ev.Status.Status != jobs.StatusCancelled || *ev.Status.ErrorMessage != msg {
		t.Errorf("status payload lost: %+v", ev.Status)
	}
}

func TestPublishError(t *testing.T) {
	fs := &fakeStream{addErr: errors.New("connection refused")}
	p := NewPublisher(fs, "s", nil)

	err := p.OnStatus(context.Background(), jobs.StatusUpdate{JobID: "c", Status: jobs.StatusRunning})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": "other"}})
	if err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestFollowFiltersJob(t *testing.T) {
	fs := &fakeStream{}
	p := NewPublisher(fs, "s", nil)
	ctx := context.Background()

	p.OnStatus(ctx, jobs.StatusUpdate{JobID: "a", Status: jobs.StatusRunning})
	p.OnStatus(ctx, jobs.StatusUpdate{JobID: "b", Status: jobs.StatusRunning})
	p.OnTimestep(ctx, jobs.Timestep{JobID: "a", Time: 1})
	p.OnStatus(ctx, jobs.StatusUpdate{JobID: "a", Status: jobs.StatusCompleted})
	msgs := fs.messages()
	fs.batches = [][]redis.XMessage{msgs[:2], msgs[2:]}

	stop := errors.New("stop")
	var got []Event
	err := p.Follow(ctx, "a", "0", func(ev Event) error {
		got = append(got, ev)
		if ev.Status != nil && ev.Status.Status.Terminal() {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop, got %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for job a, got %d", len(got))
	}
	if got[1].Type != TypeTimestep {
		t.Errorf("expected timestep second, got %s", got[1].Type)
	}
}

func TestFollowCancelled(t *testing.T) {
	fs := &fakeStream{}
	p := NewPublisher(fs, "s", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs.batches = nil
	err := p.Follow(ctx, "", "", func(Event) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
