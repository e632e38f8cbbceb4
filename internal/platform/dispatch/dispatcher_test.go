package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/store"
)

func newTestDispatcher(st store.Store, opts ...Option) *Dispatcher {
	return New(st, zerolog.Nop(), opts...)
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDispatcher_PutAppliesAsync(t *testing.T) {
	st := store.NewMemStore()
	d := newTestDispatcher(st)
	key := store.Key{Collection: "posts", ID: "p1"}

	d.Dispatch(Request{Op: OpPut, Target: key, Doc: store.Document{"content": "x"}})
	drain(t, d)

	doc, err := st.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["content"] != "x" {
		t.Errorf("expected content x, got %v", doc["content"])
	}
}

func TestDispatcher_CreateRecord_SelfAddressing(t *testing.T) {
	st := store.NewMemStore()
	d := newTestDispatcher(st)

	key := d.CreateRecord("posts", store.Document{"content": "hello"})
	if key.ID == "" {
		t.Fatal("expected a generated id")
	}
	drain(t, d)

	doc, err := st.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the second patch writes the id into the record body itself
	if store.Str(doc, "id") != key.ID {
		t.Errorf("expected self-referencing id %s, got %v", key.ID, doc["id"])
	}
}

func TestDispatcher_FailurePublishedNotRaised(t *testing.T) {
	st := store.NewMemStore()
	d := newTestDispatcher(st)
	events := d.Subscribe()

	// patch against a missing document fails inside the store
	d.Dispatch(Request{
		Op:     OpPatch,
		Target: store.Key{Collection: "posts", ID: "missing"},
		Fields: store.Document{"x": 1},
	})

	select {
	case f := <-events:
		if !errors.Is(f.Err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", f.Err)
		}
		if f.Request.Target.ID != "missing" {
			t.Errorf("failure must carry the original request, got %v", f.Request.Target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a failure event")
	}
	drain(t, d)
}

func TestDispatcher_SameTargetSubmissionOrder(t *testing.T) {
	st := store.NewMemStore()
	d := newTestDispatcher(st)
	key := store.Key{Collection: "posts", ID: "p1"}

	d.Dispatch(Request{Op: OpPut, Target: key, Doc: store.Document{}})
	for i := 0; i < 20; i++ {
		d.Dispatch(Request{Op: OpIncrement, Target: key, Field: "reply_count", Delta: 1})
	}
	d.Dispatch(Request{Op: OpPatch, Target: key, Fields: store.Document{"content": "last"}})
	drain(t, d)

	doc, err := st.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Int64(doc, "reply_count"); got != 20 {
		t.Errorf("expected reply_count 20, got %d", got)
	}
	if doc["content"] != "last" {
		t.Errorf("expected final patch applied, got %v", doc["content"])
	}
}

func TestDispatcher_QueueFullReported(t *testing.T) {
	st := &blockingStore{MemStore: store.NewMemStore(), release: make(chan struct{})}
	d := newTestDispatcher(st, WithShards(1), WithQueueSize(1))
	events := d.Subscribe()

	key := store.Key{Collection: "posts", ID: "p1"}
	// first request occupies the worker, second fills the queue,
	// third must be rejected
	d.Dispatch(Request{Op: OpPut, Target: key, Doc: store.Document{}})
	d.Dispatch(Request{Op: OpPut, Target: key, Doc: store.Document{}})
	d.Dispatch(Request{Op: OpPut, Target: key, Doc: store.Document{}})

	select {
	case f := <-events:
		if !errors.Is(f.Err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", f.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a queue-full failure event")
	}

	close(st.release)
	drain(t, d)
}

func TestDispatcher_SlowSubscriberDoesNotBlock(t *testing.T) {
	st := store.NewMemStore()
	d := newTestDispatcher(st)
	d.Subscribe() // never drained

	for i := 0; i < 200; i++ {
		d.Dispatch(Request{
			Op:     OpPatch,
			Target: store.Key{Collection: "posts", ID: "missing"},
			Fields: store.Document{"x": 1},
		})
	}
	// workers must still drain despite the abandoned subscriber
	drain(t, d)
}

// blockingStore stalls Put until released, for queue backpressure tests.
type blockingStore struct {
	*store.MemStore
	release chan struct{}
}

func (b *blockingStore) Put(ctx context.Context, key store.Key, doc store.Document) error {
	<-b.release
	return b.MemStore.Put(ctx, key, doc)
}
