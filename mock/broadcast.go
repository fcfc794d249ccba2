package mock

import (
	arena "github.com/clickarena/backend"
)

type PersonalRecord struct {
	UserId arena.UserId
	Update arena.PersonalUpdate
}

// Broadcaster records published updates on buffered channels so tests can
// wait for asynchronous delivery.
type Broadcaster struct {
	Global   chan arena.GlobalUpdate
	Personal chan PersonalRecord
}

var _ arena.Broadcaster = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		Global:   make(chan arena.GlobalUpdate, 16),
		Personal: make(chan PersonalRecord, 16),
	}
}

func (b *Broadcaster) PublishGlobal(update arena.GlobalUpdate) {
	b.Global <- update
}

func (b *Broadcaster) PublishPersonal(userId arena.UserId, update arena.PersonalUpdate) {
	b.Personal <- PersonalRecord{UserId: userId, Update: update}
}
