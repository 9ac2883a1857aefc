package activity

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention bounds how many entries a session keeps in memory.
const DefaultRetention = 500

type sessionLog struct {
	entries []Entry
	nextID  int64
}

// MemoryStore keeps activity logs in process memory. Dev and test use; state
// does not survive restarts.
type MemoryStore struct {
	mu        sync.Mutex
	logs      map[string]*sessionLog
	retention int
}

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		logs:      make(map[string]*sessionLog),
		retention: retention,
	}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[e.SessionID]
	if !ok {
		log = &sessionLog{nextID: 1}
		s.logs[e.SessionID] = log
	}

	e.ID = log.nextID
	log.nextID++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Level = normalizeLevel(e.Level)

	log.entries = append(log.entries, e)
	if len(log.entries) > s.retention {
		n := copy(log.entries, log.entries[len(log.entries)-s.retention:])
		log.entries = log.entries[:n]
	}
	return e, nil
}

func (s *MemoryStore) Tail(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[sessionID]
	if !ok {
		return []Entry{}, nil
	}
	entries := log.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Clear drops a session's entries. The id counter is the high-water mark and
// is kept, so an append racing with clear can only land above it, never
// resurrect a cleared id.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[sessionID]
	if !ok {
		return 0, nil
	}
	deleted := int64(len(log.entries))
	log.entries = nil
	return deleted, nil
}
