package broker

import (
	"context"
	"slices"
	"sync"
)

// Local is an in-process Conn. Requests go to one listener of the first
// queue group subscribed to the subject, picked round robin.
type Local struct {
	mu     sync.Mutex
	groups map[string][]*localGroup
	closed bool
}

type localGroup struct {
	queue   string
	members []*localSub
	next    int
}

type localSub struct {
	conn    *Local
	subject string
	queue   string
	handler Handler
}

// NewLocal creates an in-process broker.
func NewLocal() *Local {
	return &Local{groups: make(map[string][]*localGroup)}
}

// Request implements Conn. The handler runs on its own goroutine so that
// ctx bounds the wait.
func (l *Local) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	handler, err := l.pick(subject)
	if err != nil {
		return nil, err
	}

	payload := append([]byte(nil), data...)
	reply := make(chan []byte, 1)
	go func() {
		reply <- handler(context.WithoutCancel(ctx), payload)
	}()

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Local) pick(subject string) (Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	groups := l.groups[subject]
	if len(groups) == 0 {
		return nil, ErrNoResponders
	}
	g := groups[0]
	sub := g.members[g.next%len(g.members)]
	g.next++
	return sub.handler, nil
}

// QueueSubscribe implements Conn.
func (l *Local) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	sub := &localSub{conn: l, subject: subject, queue: queue, handler: handler}
	for _, g := range l.groups[subject] {
		if g.queue == queue {
			g.members = append(g.members, sub)
			return sub, nil
		}
	}
	l.groups[subject] = append(l.groups[subject], &localGroup{queue: queue, members: []*localSub{sub}})
	return sub, nil
}

// Unsubscribe implements Subscription.
func (s *localSub) Unsubscribe() error {
	l := s.conn
	l.mu.Lock()
	defer l.mu.Unlock()

	groups := l.groups[s.subject]
	for i, g := range groups {
		if g.queue != s.queue {
			continue
		}
		g.members = slices.DeleteFunc(g.members, func(m *localSub) bool { return m == s })
		if len(g.members) == 0 {
			groups = slices.Delete(groups, i, i+1)
		}
		break
	}
	if len(groups) == 0 {
		delete(l.groups, s.subject)
	} else {
		l.groups[s.subject] = groups
	}
	return nil
}

// Ping implements Conn.
func (l *Local) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	clear(l.groups)
	return nil
}
