// Package dispatch implements fire-and-forget submission of store mutations.
// Callers never await completion; failures are delivered on a process-wide
// side channel that any number of subscribers drain independently.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/store"
)

// ErrQueueFull is reported when a shard queue cannot accept another request.
// The mutation is dropped; it is never applied partially or retried.
var ErrQueueFull = errors.New("dispatch queue full")

// Op identifies a mutation kind.
type Op string

const (
	OpPut       Op = "put"
	OpPatch     Op = "patch"
	OpDelete    Op = "delete"
	OpIncrement Op = "increment"
	OpSetAdd    Op = "set_add"
	OpSetRemove Op = "set_remove"
)

// Request is a single mutation against one document. It is owned by the
// dispatcher from submission until terminal (applied or reported failed).
type Request struct {
	Op     Op
	Target store.Key
	// Doc is the full document body for OpPut.
	Doc store.Document
	// Fields carries the partial update for OpPatch.
	Fields store.Document
	// Field/Delta/Value parameterize the atomic ops.
	Field string
	Delta int64
	Value string

	// barrier is used internally by Flush.
	barrier chan struct{}
}

// Failure is published on the side channel when a mutation does not apply.
type Failure struct {
	Request Request
	Err     error
	At      time.Time
}

// Dispatcher fans mutations out to a fixed set of shard workers. Requests for
// the same target always land on the same shard, so calls a caller submits in
// sequence against one document apply in submission order. Requests against
// distinct targets may interleave freely.
type Dispatcher struct {
	st     store.Store
	log    zerolog.Logger
	shards []chan Request

	mu     sync.Mutex
	subs   []chan Failure
	closed bool

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	shards    int
	queueSize int
}

// WithShards sets the number of shard workers.
func WithShards(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithQueueSize sets the per-shard queue capacity.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// New creates a Dispatcher and starts its workers.
func New(st store.Store, log zerolog.Logger, opts ...Option) *Dispatcher {
	cfg := config{shards: 4, queueSize: 256}
	for _, o := range opts {
		o(&cfg)
	}
	d := &Dispatcher{
		st:     st,
		log:    log,
		shards: make([]chan Request, cfg.shards),
	}
	for i := range d.shards {
		d.shards[i] = make(chan Request, cfg.queueSize)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	return d
}

// Dispatch submits a mutation and returns immediately. The request is applied
// at most once; a full queue or a failed store call is reported on the side
// channel, never to the caller.
func (d *Dispatcher) Dispatch(req Request) {
	shard := d.shards[shardFor(req.Target, len(d.shards))]
	select {
	case shard <- req:
	default:
		d.report(Failure{Request: req, Err: ErrQueueFull, At: time.Now()})
	}
}

// CreateRecord stores doc under a fresh id in the given collection and then
// patches the record's own id field (create-then-patch-id). The id is returned
// synchronously so callers can address the record before the writes settle.
func (d *Dispatcher) CreateRecord(collection string, doc store.Document) store.Key {
	key := store.Key{Collection: collection, ID: uuid.NewString()}
	d.Dispatch(Request{Op: OpPut, Target: key, Doc: doc})
	d.Dispatch(Request{Op: OpPatch, Target: key, Fields: store.Document{"id": key.ID}})
	return key
}

// Subscribe registers a drain of failure events. Each subscriber has its own
// buffered channel; a subscriber that falls behind misses events rather than
// blocking the workers.
func (d *Dispatcher) Subscribe() <-chan Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan Failure, 64)
	d.subs = append(d.subs, ch)
	return ch
}

// Flush blocks until every mutation dispatched before the call has settled.
// It is for tests and shutdown paths only; request flows never await.
func (d *Dispatcher) Flush() {
	barriers := make([]chan struct{}, len(d.shards))
	for i, shard := range d.shards {
		b := make(chan struct{})
		barriers[i] = b
		shard <- Request{barrier: b}
	}
	for _, b := range barriers {
		<-b
	}
}

// Shutdown stops accepting work already queued, waits for in-flight mutations
// to settle, and closes subscriber channels. Dispatch after Shutdown panics on
// the closed shard channels; stop callers first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	for _, shard := range d.shards {
		close(shard)
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, ch := range d.subs {
		close(ch)
	}
	d.subs = nil
	return nil
}

func (d *Dispatcher) worker(shard <-chan Request) {
	defer d.wg.Done()
	for req := range shard {
		if req.barrier != nil {
			close(req.barrier)
			continue
		}
		if err := d.apply(req); err != nil {
			d.report(Failure{Request: req, Err: err, At: time.Now()})
		}
	}
}

func (d *Dispatcher) apply(req Request) error {
	ctx := context.Background()
	switch req.Op {
	case OpPut:
		return d.st.Put(ctx, req.Target, req.Doc)
	case OpPatch:
		return d.st.Patch(ctx, req.Target, req.Fields)
	case OpDelete:
		return d.st.Delete(ctx, req.Target)
	case OpIncrement:
		return d.st.AtomicIncrement(ctx, req.Target, req.Field, req.Delta)
	case OpSetAdd:
		return d.st.AddToSet(ctx, req.Target, req.Field, req.Value)
	case OpSetRemove:
		return d.st.RemoveFromSet(ctx, req.Target, req.Field, req.Value)
	}
	return errors.New("unknown mutation op: " + string(req.Op))
}

func (d *Dispatcher) report(f Failure) {
	d.log.Error().
		Err(f.Err).
		Str("op", string(f.Request.Op)).
		Str("target", f.Request.Target.String()).
		Msg("mutation failed")

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, ch := range d.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

func shardFor(key store.Key, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key.Collection))
	h.Write([]byte{0})
	h.Write([]byte(key.ID))
	return int(h.Sum32()) % n
}
