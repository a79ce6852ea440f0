// Package queue moves parcel-encoded values between a writer and a reader
// as compactwire data frames and dispatches decoded values to listeners.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/rawbytedev/parcel"
	"github.com/rawbytedev/parcel/pkg/compactwire"
)

// Listener receives every decoded value.
type Listener func(v any)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Queue writes framed values to w and reads frames from r in Run.
type Queue struct {
	reg *parcel.Registry
	log *zap.Logger

	wmu   sync.Mutex
	w     io.Writer
	frame compactwire.DataFrame

	r io.Reader

	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[ListenerID]Listener
	order     []ListenerID

	compress    bool
	minCompress int
}

// Option configures a Queue.
type Option func(*Queue)

// WithCompression zstd-compresses frames whose payload is at least
// minSize bytes.
func WithCompression(minSize int) Option {
	return func(q *Queue) {
		q.compress = true
		q.minCompress = minSize
	}
}

// WithLogger sets the logger for dropped values.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// New returns a queue sending to w and receiving from r. Either may be nil
// for a one-way queue.
func New(reg *parcel.Registry, r io.Reader, w io.Writer, opts ...Option) *Queue {
	q := &Queue{
		reg:       reg,
		log:       zap.NewNop(),
		r:         r,
		w:         w,
		listeners: make(map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send writes v as a single-value frame.
func (q *Queue) Send(v any) error {
	return q.SendBatch(v)
}

// SendBatch writes vs as one frame with an offset table.
func (q *Queue) SendBatch(vs ...any) error {
	if q.w == nil {
		return errors.New("queue: no writer")
	}
	var (
		payload []byte
		offsets []uint32
	)
	for _, v := range vs {
		data, err := parcel.Marshal(q.reg, v)
		if err != nil {
			return err
		}
		offsets = append(offsets, uint32(len(payload)))
		payload = append(payload, data...)
	}
	var flags byte
	if len(vs) > 1 {
		flags |= compactwire.FlagHasOffsetTable
	}
	if q.compress && len(payload) >= q.minCompress {
		flags |= compactwire.FlagCompressed
	}

	q.wmu.Lock()
	defer q.wmu.Unlock()
	out, err := q.frame.EncodeDataFrame(payload, flags, offsets)
	if err != nil {
		return err
	}
	if _, err := q.w.Write(out); err != nil {
		return fmt.Errorf("queue: write frame: %w", err)
	}
	return nil
}

// AddReceiveListener registers fn and returns its id.
func (q *Queue) AddReceiveListener(fn Listener) ListenerID {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.listeners[q.nextID] = fn
	q.order = append(q.order, q.nextID)
	return q.nextID
}

// RemoveReceiveListener drops the listener registered under id.
func (q *Queue) RemoveReceiveListener(id ListenerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.listeners[id]; !ok {
		return
	}
	delete(q.listeners, id)
	for i, x := range q.order {
		if x == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// ClearReceiveListeners drops every listener.
func (q *Queue) ClearReceiveListeners() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.listeners)
	q.order = nil
}

func (q *Queue) snapshot() []Listener {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Listener, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.listeners[id])
	}
	return out
}

// Run reads frames until r reports EOF, ctx is done, or a frame is
// malformed. Values that fail to decode are logged and skipped. Close the
// reader to unblock a pending read.
func (q *Queue) Run(ctx context.Context) error {
	if q.r == nil {
		return errors.New("queue: no reader")
	}
	var frame compactwire.DataFrame
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := compactwire.ReadFrame(q.r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("queue: read frame: %w", err)
		}
		payload, offsets, _, err := frame.DecodeDataFrame(raw)
		if err != nil {
			return fmt.Errorf("queue: decode frame: %w", err)
		}
		for _, msg := range compactwire.Split(payload, offsets) {
			v, err := parcel.Unmarshal(q.reg, msg)
			if err != nil {
				q.log.Warn("dropping undecodable value",
					zap.Int("bytes", len(msg)),
					zap.String("kind", string(parcel.KindOf(err))),
					zap.Error(err))
				continue
			}
			for _, fn := range q.snapshot() {
				fn(v)
			}
		}
	}
}
