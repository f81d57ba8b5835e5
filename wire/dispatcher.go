package wire

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Stream is one raw, full-duplex byte stream a Dispatcher can multiplex
// frames over (a QUIC stream, in the peer package's usage).
type Stream interface {
	io.Reader
	io.Writer
}

// defaultQueueDepth bounds each channel's receive backlog, per §4.H
// "enqueued in a bounded per-channel queue".
const defaultQueueDepth = 64

// Dispatcher owns zero or more raw streams to one remote peer and
// multiplexes §4.H's logical channels over them: adding a stream augments
// both read fan-in and write fan-out, and the dispatcher becomes empty
// (refusing new sends, waking every blocked receiver) once its last stream
// is gone. Built on a mutex and condition variables rather than a
// select-based fan-in: with an unbounded number of streams and channels a
// single `select` cannot wait on a dynamic set of cases, so each channel's
// queue gets its own condvar that a stream's read loop and a receiver's
// wait both rendezvous on.
type Dispatcher struct {
	log zerolog.Logger

	mu      sync.Mutex
	streams []*managedStream
	channels map[ChannelTag]*channelQueue
}

// NewDispatcher returns an empty dispatcher ready to accept streams.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log, channels: make(map[ChannelTag]*channelQueue)}
}

type managedStream struct {
	s Stream

	mu      sync.Mutex
	healthy bool
}

func (ms *managedStream) isHealthy() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.healthy
}

func (ms *managedStream) markUnhealthy() {
	ms.mu.Lock()
	ms.healthy = false
	ms.mu.Unlock()
}

// AddStream registers s for both receiving and sending, and starts its
// read loop.
func (d *Dispatcher) AddStream(s Stream) {
	ms := &managedStream{s: s, healthy: true}
	d.mu.Lock()
	d.streams = append(d.streams, ms)
	d.mu.Unlock()
	go d.readLoop(ms)
}

// RemoveStream withdraws s from both fan-in and fan-out, closing every
// channel queue if it was the last stream, per §4.H's "empty" rule.
func (d *Dispatcher) RemoveStream(s Stream) {
	d.mu.Lock()
	var ms *managedStream
	for i, cand := range d.streams {
		if cand.s == s {
			ms = cand
			d.streams = append(d.streams[:i], d.streams[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	if ms != nil {
		d.closeIfEmpty()
	}
}

func (d *Dispatcher) readLoop(ms *managedStream) {
	for {
		env, err := ReadFrame(ms.s)
		if err != nil {
			ms.markUnhealthy()
			d.mu.Lock()
			for i, cand := range d.streams {
				if cand == ms {
					d.streams = append(d.streams[:i], d.streams[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
			d.closeIfEmpty()
			return
		}
		d.queueFor(env.Channel).push(env.Message)
	}
}

// IsEmpty reports whether the dispatcher currently holds no streams.
func (d *Dispatcher) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams) == 0
}

func (d *Dispatcher) closeIfEmpty() {
	d.mu.Lock()
	empty := len(d.streams) == 0
	var queues []*channelQueue
	if empty {
		for _, q := range d.channels {
			queues = append(queues, q)
		}
	}
	d.mu.Unlock()
	for _, q := range queues {
		q.close()
	}
}

func (d *Dispatcher) queueFor(tag ChannelTag) *channelQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.channels[tag]
	if !ok {
		q = newChannelQueue(defaultQueueDepth)
		d.channels[tag] = q
	}
	return q
}

// OpenRecv returns a Receiver draining channel tag's incoming messages.
// §4.H allows multiple receivers per channel; each delivered message goes
// to exactly one of whichever receivers happen to be waiting.
func (d *Dispatcher) OpenRecv(tag ChannelTag) *Receiver {
	return &Receiver{q: d.queueFor(tag)}
}

// OpenSend returns a Sender for channel tag: each Send tries the first
// healthy stream, failing over to the next on error.
func (d *Dispatcher) OpenSend(tag ChannelTag) *Sender {
	return &Sender{d: d, tag: tag}
}

// Receiver drains one channel's incoming messages.
type Receiver struct {
	q *channelQueue
}

// Recv blocks until a message arrives, ctx is cancelled, or the
// dispatcher becomes empty.
func (r *Receiver) Recv(ctx context.Context) (Message, error) {
	return r.q.pop(ctx)
}

// Sender sends messages on one channel, failing over across streams.
type Sender struct {
	d   *Dispatcher
	tag ChannelTag
}

// Send tries every currently-registered healthy stream in order, returning
// nil as soon as one accepts the frame, or ErrDispatcherClosed if none do.
func (s *Sender) Send(msg Message) error {
	env := Envelope{Channel: s.tag, Message: msg}

	s.d.mu.Lock()
	streams := append([]*managedStream(nil), s.d.streams...)
	s.d.mu.Unlock()

	for _, ms := range streams {
		if !ms.isHealthy() {
			continue
		}
		if err := WriteFrame(ms.s, env); err == nil {
			return nil
		}
		ms.markUnhealthy()
	}
	return ErrDispatcherClosed
}

// channelQueue is a bounded backlog of undelivered messages for one
// channel, guarded by a condition variable so a stream's read loop and a
// receiver's wait rendezvous without busy-polling.
type channelQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	backlog  []Message
	maxDepth int
	closed   bool
}

func newChannelQueue(maxDepth int) *channelQueue {
	q := &channelQueue{maxDepth: maxDepth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *channelQueue) push(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.backlog) >= q.maxDepth {
		// Drop the oldest undelivered frame rather than block the reader
		// loop indefinitely; §4.H names the queue as bounded but does not
		// specify an overflow policy.
		q.backlog = q.backlog[1:]
	}
	q.backlog = append(q.backlog, msg)
	q.cond.Broadcast()
}

func (q *channelQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *channelQueue) pop(ctx context.Context) (Message, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		q.cond.Wait()
	}
	if len(q.backlog) == 0 {
		return Message{}, ErrDispatcherClosed
	}
	msg := q.backlog[0]
	q.backlog = q.backlog[1:]
	return msg, nil
}
