package datamanager

import (
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// ChangeKind says where a change came from.
type ChangeKind string

const (
	ChangeLocal    ChangeKind = "local"
	ChangeRemote   ChangeKind = "remote"
	ChangeAck      ChangeKind = "ack"
	ChangePurged   ChangeKind = "purged"
	ChangeConflict ChangeKind = "conflict"
	ChangeResolved ChangeKind = "resolved"
)

type Change struct {
	Type models.EntityType
	ID   string
	Kind ChangeKind
}

const subscriberBuffer = 64

// Notifier fans changes out to per-type subscribers without ever blocking
// the publisher.
type Notifier struct {
	mu   sync.Mutex
	next uint64
	subs map[models.EntityType]map[uint64]chan Change
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[models.EntityType]map[uint64]chan Change)}
}

func (n *Notifier) Subscribe(t models.EntityType) (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Change, subscriberBuffer)
	if n.subs[t] == nil {
		n.subs[t] = make(map[uint64]chan Change)
	}
	n.subs[t][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[t], id)
			close(ch)
		})
	}
}

func (n *Notifier) Publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[c.Type] {
		select {
		case ch <- c:
		default:
		}
	}
}
