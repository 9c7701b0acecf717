package config

import (
	"sync"
	"time"

	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/skademlia/protobuf"
)

// DefaultDebounce is how long the store waits after a bootstrap-peer
// change before rewriting the config file, coalescing bursts of changes
// during convergence into one write.
const DefaultDebounce = 2 * time.Second

// Store persists the node's config record, rewriting it on every accepted
// bootstrap-peer change, debounced.
type Store struct {
	path     string
	debounce time.Duration

	mu     sync.Mutex
	cfg    *Config
	timer  *time.Timer
	closed bool
}

// NewStore wraps cfg for persistence at path. The initial record is not
// written until the first change (the file it was loaded from is already
// current).
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, debounce: DefaultDebounce, cfg: cfg}
}

// SetContacts replaces the bootstrap contact list and schedules a write.
func (s *Store) SetContacts(contacts []*protobuf.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cfg.Contacts = contacts
	s.scheduleLocked()
}

// AddContact appends a bootstrap contact and schedules a write. Contacts
// already present (by node id) are ignored.
func (s *Store) AddContact(contact *protobuf.Contact) {
	if contact == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, existing := range s.cfg.Contacts {
		if existing != nil && string(existing.NodeId) == string(contact.NodeId) {
			return
		}
	}
	s.cfg.Contacts = append(s.cfg.Contacts, contact)
	s.scheduleLocked()
}

func (s *Store) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			log.Warn().Err(err).Msg("cannot persist config")
		}
	})
}

// Flush writes the current record immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	cfg := &Config{
		PrivateKey: s.cfg.PrivateKey,
		NodeID:     s.cfg.NodeID,
		Contacts:   append([]*protobuf.Contact(nil), s.cfg.Contacts...),
	}
	path := s.path
	s.mu.Unlock()

	return Save(path, cfg)
}

// Close cancels any pending write and flushes once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	return s.Flush()
}
