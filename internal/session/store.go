package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

// DefaultTTL is how long an idle session survives
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned for unknown or expired tokens
	ErrNotFound = errors.New("session not found")
	// ErrInvalidToken is returned for an empty token
	ErrInvalidToken = errors.New("invalid session token")
)

// Store persists session data by token
type Store interface {
	Get(ctx context.Context, token string) (*models.SessionData, error)
	Put(ctx context.Context, token string, data *models.SessionData) error
	Delete(ctx context.Context, token string) error
}

type memoryEntry struct {
	data      models.SessionData
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Expired entries are
// dropped on access and by a periodic sweep.
type MemoryStore struct {
	sessions sync.Map // token -> *memoryEntry
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewMemoryStore creates a store whose entries live for ttl after their
// last write. sweepEvery of zero disables the background sweep.
func NewMemoryStore(ttl, sweepEvery time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, token string) (*models.SessionData, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	value, ok := s.sessions.Load(token)
	if !ok {
		return nil, ErrNotFound
	}
	entry := value.(*memoryEntry)
	if !s.now().Before(entry.expiresAt) {
		s.sessions.Delete(token)
		return nil, ErrNotFound
	}
	data := entry.data
	return &data, nil
}

func (s *MemoryStore) Put(_ context.Context, token string, data *models.SessionData) error {
	if token == "" {
		return ErrInvalidToken
	}
	if data == nil {
		return errors.New("nil session data")
	}
	s.sessions.Store(token, &memoryEntry{
		data:      *data,
		expiresAt: s.now().Add(s.ttl),
	})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.sessions.Delete(token)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Sweep drops every expired session.
func (s *MemoryStore) Sweep() {
	now := s.now()
	s.sessions.Range(func(key, value interface{}) bool {
		if !now.Before(value.(*memoryEntry).expiresAt) {
			s.sessions.Delete(key)
		}
		return true
	})
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}
