package docstore

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Peer is the sync session between this replica and one remote replica.
type Peer struct {
	store   *Store
	state   *automerge.SyncState
	changed chan struct{}
}

func (s *Store) NewPeer() *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Peer{
		store:   s,
		state:   automerge.NewSyncState(s.doc),
		changed: make(chan struct{}, 1),
	}
	s.peers[p] = struct{}{}
	return p
}

// ReceiveMessage applies a sync message from the remote replica and notifies
// subscribers of whatever it changed.
func (p *Peer) ReceiveMessage(msg []byte) error {
	s := p.store
	s.mu.Lock()
	before := s.doc.Heads()
	if _, err := p.state.ReceiveMessage(msg); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to receive message: %w", err)
	}
	after := s.doc.Heads()
	if sameHeads(before, after) {
		s.mu.Unlock()
		p.wake()
		return nil
	}
	snap, seq, err := s.versionLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.changed(snap, seq)
	return nil
}

// GenerateMessage returns the next message for the remote replica, if any.
func (p *Peer) GenerateMessage() ([]byte, bool) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, valid := p.state.GenerateMessage()
	if !valid || msg == nil {
		return nil, false
	}
	return msg.Bytes(), true
}

// Changed fires when there may be something new to send.
func (p *Peer) Changed() <-chan struct{} {
	return p.changed
}

func (p *Peer) Close() {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	delete(p.store.peers, p)
}

func (p *Peer) wake() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func sameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, h := range a {
		seen[h.String()] = true
	}
	for _, h := range b {
		if !seen[h.String()] {
			return false
		}
	}
	return true
}
