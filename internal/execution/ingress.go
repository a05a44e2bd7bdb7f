package execution

import (
	"context"
	"sync"

	"execCore/internal/domain"
)

// message is one item of the ingress queue: an event from a client or a
// command routed from another goroutine.
type message struct {
	event domain.Event
	cmd   domain.Command
	reply chan error
}

// ingress is the single serialized queue feeding the engine. Producers never
// block, so a client may report events from inside a command call.
type ingress struct {
	mu     sync.Mutex
	items  []message
	notify chan struct{}
	warnAt int
	warned bool
}

func newIngress(warnAt int) *ingress {
	return &ingress{notify: make(chan struct{}, 1), warnAt: warnAt}
}

// push appends m and reports whether the backlog just crossed the warning size.
func (q *ingress) push(m message) (overflow bool, depth int) {
	q.mu.Lock()
	q.items = append(q.items, m)
	depth = len(q.items)
	if depth >= q.warnAt && !q.warned {
		q.warned = true
		overflow = true
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return overflow, depth
}

func (q *ingress) popAll() []message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if len(items) < q.warnAt {
		q.warned = false
	}
	return items
}

func (q *ingress) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HandleEvent enqueues a venue event. Safe for concurrent use; never blocks.
func (e *Engine) HandleEvent(ev domain.Event) {
	if ev == nil {
		return
	}
	if overflow, depth := e.inbox.push(message{event: ev}); overflow {
		e.logger.Warn(context.Background(), "Ingress backlog is growing", map[string]interface{}{"depth": depth})
	}
}

// Pending returns the number of queued messages.
func (e *Engine) Pending() int { return e.inbox.depth() }

// Send routes cmd through the ingress queue and waits for the result.
// It must not be called from the goroutine running Run (use Execute there).
func (e *Engine) Send(ctx context.Context, cmd domain.Command) error {
	reply := make(chan error, 1)
	e.inbox.push(message{cmd: cmd, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes the ingress queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info(ctx, "Execution engine running")
	for {
		batch := e.inbox.popAll()
		for _, m := range batch {
			e.dispatch(ctx, m)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-e.inbox.notify:
		case <-ctx.Done():
			e.logger.Info(ctx, "Execution engine stopped", map[string]interface{}{"pending": e.inbox.depth()})
			return ctx.Err()
		}
	}
}

// Drain processes queued messages, including any queued while draining, until
// the queue is empty. Returns the number of messages processed.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		batch := e.inbox.popAll()
		if len(batch) == 0 {
			return n
		}
		for _, m := range batch {
			e.dispatch(ctx, m)
			n++
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, m message) {
	if m.cmd != nil {
		err := e.Execute(ctx, m.cmd)
		if m.reply != nil {
			m.reply <- err
		}
		return
	}
	e.Process(ctx, m.event)
}
