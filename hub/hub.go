// Package hub fans out leaderboard updates to connected clients. Publishing
// never blocks the mutation path: each subscriber has a buffered queue and a
// dedicated writer goroutine, and a subscriber that cannot keep up is dropped
// rather than allowed to stall writers.
package hub

import (
	"sync"

	arena "github.com/clickarena/backend"
	"github.com/sirupsen/logrus"
)

const sendQueueSize = 16

type subscriber struct {
	userId arena.UserId
	conn   arena.Conn
	send   chan interface{}

	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	byUser map[arena.UserId]map[*subscriber]struct{}
}

var _ arena.Broadcaster = (*Hub)(nil)

func New() *Hub {
	return &Hub{
		subs:   map[*subscriber]struct{}{},
		byUser: map[arena.UserId]map[*subscriber]struct{}{},
	}
}

// Subscription detaches one connection from the hub when closed.
type Subscription struct {
	hub *Hub
	sub *subscriber
}

func (s *Subscription) Close() {
	s.hub.remove(s.sub)
}

// Subscribe registers a connection authenticated as the given user and starts
// its writer. The caller keeps reading from the connection; when the peer goes
// away it must Close the subscription so the hub stops targeting it.
func (h *Hub) Subscribe(userId arena.UserId, conn arena.Conn) *Subscription {
	sub := &subscriber{
		userId: userId,
		conn:   conn,
		send:   make(chan interface{}, sendQueueSize),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	conns, ok := h.byUser[userId]
	if !ok {
		conns = map[*subscriber]struct{}{}
		h.byUser[userId] = conns
	}
	conns[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop(h)
	return &Subscription{hub: h, sub: sub}
}

func (s *subscriber) writeLoop(h *Hub) {
	for msg := range s.send {
		if err := s.conn.WriteJSON(msg); err != nil {
			logrus.
				WithField("user_id", s.userId).
				WithError(err).
				Debugln("Subscriber write failed, dropping.")
			h.remove(s)
			// Drain remaining messages so publishers never block.
			for range s.send {
			}
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub]
	if present {
		delete(h.subs, sub)
		conns := h.byUser[sub.userId]
		delete(conns, sub)
		if len(conns) == 0 {
			delete(h.byUser, sub.userId)
		}
	}
	h.mu.Unlock()

	if present {
		sub.close()
		_ = sub.conn.Close()
	}
}

// PublishGlobal delivers the update to every connection. Best effort: a
// subscriber with a full queue is dropped.
func (h *Hub) PublishGlobal(update arena.GlobalUpdate) {
	h.mu.RLock()
	var stale []*subscriber
	for sub := range h.subs {
		if !sub.offer(update) {
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	h.dropStale(stale)
}

// PublishPersonal delivers the update to the user's own connections only.
// With no open connection the event is simply dropped, never queued.
func (h *Hub) PublishPersonal(userId arena.UserId, update arena.PersonalUpdate) {
	h.mu.RLock()
	var stale []*subscriber
	for sub := range h.byUser[userId] {
		if !sub.offer(update) {
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	h.dropStale(stale)
}

// offer must run with the hub lock held (read is enough) so the queue cannot
// be closed mid-send.
func (s *subscriber) offer(msg interface{}) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) dropStale(stale []*subscriber) {
	for _, sub := range stale {
		logrus.
			WithField("user_id", sub.userId).
			Warningln("Subscriber queue full, dropping.")
		h.remove(sub)
	}
}

// ConnectionCount reports how many live connections the hub is tracking.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
