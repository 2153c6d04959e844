// Package mailq implements an in-memory outbound mail queue that is
// drained periodically. Enqueueing never blocks on delivery.
package mailq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/knadh/smtppool"
	"github.com/sethvargo/go-retry"
	"github.com/zerodha/logf"
)

// ErrClosed is returned when a message is enqueued after the queue
// has shut down.
var ErrClosed = errors.New("mail queue is closed")

// Sender delivers a single message. *smtppool.Pool satisfies it.
type Sender interface {
	Send(smtppool.Email) error
}

// Opt contains the queue's flush settings.
type Opt struct {
	// Interval between two flushes.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`

	// Number of additional delivery attempts per message within a flush.
	// 0 attempts delivery once and drops the message on failure.
	Retries   uint64        `koanf:"retries"`
	RetryWait time.Duration `koanf:"retry_wait" validate:"gte=0"`
}

// Queue is an ordered list of messages waiting for the next flush.
type Queue struct {
	opt    Opt
	sender Sender
	lo     logf.Logger

	mu     sync.Mutex
	msgs   []smtppool.Email
	next   time.Time
	closed bool

	// Serialises flushes so that two never run at once.
	flushMu sync.Mutex
}

// New returns a Queue that delivers messages through sender.
func New(sender Sender, opt Opt, lo logf.Logger) *Queue {
	if opt.Interval <= 0 {
		opt.Interval = time.Second * 30
	}
	if opt.RetryWait <= 0 {
		opt.RetryWait = time.Second
	}

	return &Queue{
		opt:    opt,
		sender: sender,
		lo:     lo,
		next:   time.Now().Add(opt.Interval),
	}
}

// Enqueue appends a message to the queue.
func (q *Queue) Enqueue(m smtppool.Email) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.msgs = append(q.msgs, m)
	return nil
}

// NextFlush returns the time of the next scheduled flush.
func (q *Queue) NextFlush() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

// Len returns the number of messages waiting for a flush.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Flush drains the queue and attempts to deliver every message in it.
// Failed messages are logged and dropped. Messages enqueued while a
// flush is in progress are left for the next one.
func (q *Queue) Flush(ctx context.Context) (int, int) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	batch := q.msgs
	q.msgs = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0, 0
	}

	var sent, failed int
	for _, m := range batch {
		q.lo.Debug("sending mail", "to", m.To)
		if err := q.send(ctx, m); err != nil {
			q.lo.Error("error sending mail", "error", err, "to", m.To)
			failed++
			continue
		}
		q.lo.Debug("sent mail", "to", m.To)
		sent++
	}

	q.lo.Info("flushed mail queue", "sent", sent, "failed", failed)
	return sent, failed
}

// Run flushes the queue at every interval until ctx is cancelled. It
// then does a final flush and closes the queue.
func (q *Queue) Run(ctx context.Context) {
	t := time.NewTicker(q.opt.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			q.close()

			// The final flush gets its own context as ctx is already done.
			fctx, cancel := context.WithTimeout(context.Background(), q.opt.Interval)
			q.Flush(fctx)
			cancel()
			return

		case now := <-t.C:
			q.mu.Lock()
			q.next = now.Add(q.opt.Interval)
			q.mu.Unlock()

			q.Flush(ctx)
		}
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) send(ctx context.Context, m smtppool.Email) error {
	if q.opt.Retries == 0 {
		return q.sender.Send(m)
	}

	b := retry.WithMaxRetries(q.opt.Retries, retry.NewConstant(q.opt.RetryWait))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := q.sender.Send(m); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
