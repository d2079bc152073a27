// Package inmemory implements storage on process memory with one lock per queue.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	storage "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ storage.Storage = (*Storage)(nil)

// queueState holds everything mutable about one queue. Its mutex serializes admission, promotion
// and retirement for that queue only.
type queueState struct {
	mu      sync.Mutex
	waiting map[string]modelqueue.WaitingEntry
	byUID   map[string]string
	current *modelqueue.ServingSlot
	retired []modelqueue.RetiredRecord
	marks   map[string]time.Time
}

// Storage defines attributes of a struct available to its methods.
type Storage struct {
	mu      sync.RWMutex
	queues  map[string]modelqueue.Queue
	states  map[string]*queueState
	blocked map[string]time.Time
	log     *zerolog.Logger
}

// InitStorage initializes an empty in-memory storage.
func InitStorage(log *zerolog.Logger) *Storage {
	log.Info().Msg("in-memory storage initialized")
	return &Storage{
		queues:  make(map[string]modelqueue.Queue),
		states:  make(map[string]*queueState),
		blocked: make(map[string]time.Time),
		log:     log,
	}
}

func (s *Storage) state(queueID string) (*queueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[queueID]
	if !ok {
		return nil, &storageErrors.NotFoundError{Entity: storageErrors.EntityQueue, ID: queueID}
	}
	return st, nil
}

// AddQueue registers a queue.
func (s *Storage) AddQueue(_ context.Context, queue modelqueue.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queue.ID]; ok {
		return &storageErrors.AlreadyExistsError{ID: queue.ID}
	}
	s.queues[queue.ID] = queue
	s.states[queue.ID] = &queueState{
		waiting: make(map[string]modelqueue.WaitingEntry),
		byUID:   make(map[string]string),
		marks:   make(map[string]time.Time),
	}
	return nil
}

// GetQueue returns a queue by id.
func (s *Storage) GetQueue(_ context.Context, queueID string) (*modelqueue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queue, ok := s.queues[queueID]
	if !ok {
		return nil, &storageErrors.NotFoundError{Entity: storageErrors.EntityQueue, ID: queueID}
	}
	return &queue, nil
}

// ListQueues returns up to limit queues with id greater than afterID, ordered by id.
func (s *Storage) ListQueues(_ context.Context, afterID string, limit int) ([]modelqueue.Queue, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	queues := make([]modelqueue.Queue, 0, len(ids))
	for _, id := range ids {
		queues = append(queues, s.queues[id])
	}
	s.mu.RUnlock()
	return queues, nil
}

// FindWaiting returns the waiting entry of uid in a queue, or nil.
func (s *Storage) FindWaiting(_ context.Context, queueID, uid string) (*modelqueue.WaitingEntry, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	entryID, ok := st.byUID[uid]
	if !ok {
		return nil, nil
	}
	entry := st.waiting[entryID]
	return &entry, nil
}

// GetCurrent returns a copy of the serving slot of a queue, or nil.
func (s *Storage) GetCurrent(_ context.Context, queueID string) (*modelqueue.ServingSlot, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return nil, nil
	}
	slot := *st.current
	return &slot, nil
}

// ListWaiting returns the waiting entries of a queue in selection order.
func (s *Storage) ListWaiting(_ context.Context, queueID string) ([]modelqueue.WaitingEntry, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	entries := make([]modelqueue.WaitingEntry, 0, len(st.waiting))
	for _, entry := range st.waiting {
		entries = append(entries, entry)
	}
	st.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	return entries, nil
}

// ListRetired returns the retired records of a queue in insertion order.
func (s *Storage) ListRetired(_ context.Context, queueID string) ([]modelqueue.RetiredRecord, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	records := make([]modelqueue.RetiredRecord, len(st.retired))
	copy(records, st.retired)
	return records, nil
}

// Admit inserts the entry built by fn after re-validating uniqueness under the queue lock.
func (s *Storage) Admit(_ context.Context, queueID, uid string, fn storage.AdmitFunc) (*modelqueue.WaitingEntry, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.byUID[uid]; ok {
		return nil, &storageErrors.AlreadyExistsError{ID: uid}
	}
	if st.current != nil && st.current.UID == uid {
		return nil, &storageErrors.AlreadyServingError{ID: uid}
	}
	var mark *modelqueue.RateLimitMark
	if last, ok := st.marks[uid]; ok {
		mark = &modelqueue.RateLimitMark{UID: uid, QueueID: queueID, LastAdmittedAt: last}
	}
	entry, err := fn(mark)
	if err != nil {
		return nil, err
	}
	entry.QueueID = queueID
	entry.UID = uid
	st.marks[uid] = entry.AdmittedAt
	st.waiting[entry.ID] = *entry
	st.byUID[uid] = entry.ID
	s.log.Info().Msgf("admission done for uid %s in queue %s", uid, queueID)
	return entry, nil
}

// PromoteNext moves the best waiting entry into the serving slot if the slot is empty.
func (s *Storage) PromoteNext(_ context.Context, queueID string, now time.Time) (*modelqueue.ServingSlot, bool, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != nil {
		slot := *st.current
		return &slot, false, nil
	}
	var best *modelqueue.WaitingEntry
	for id := range st.waiting {
		entry := st.waiting[id]
		if best == nil || entry.Before(*best) {
			best = &entry
		}
	}
	if best == nil {
		return nil, false, nil
	}
	delete(st.waiting, best.ID)
	delete(st.byUID, best.UID)
	slot := best.Promote(now)
	st.current = &slot
	s.log.Info().Msgf("promotion done for uid %s in queue %s", slot.UID, queueID)
	promoted := slot
	return &promoted, true, nil
}

// ClearCurrent deletes the serving slot and returns what it held, or nil if it was empty.
func (s *Storage) ClearCurrent(_ context.Context, queueID string) (*modelqueue.ServingSlot, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cleared := st.current
	st.current = nil
	return cleared, nil
}

// RetireCurrent records and deletes the serving slot when fn agrees.
func (s *Storage) RetireCurrent(_ context.Context, queueID string, now time.Time, fn storage.RetireFunc) (*modelqueue.RetiredRecord, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return nil, &storageErrors.NotFoundError{Entity: storageErrors.EntityServingSlot, ID: queueID}
	}
	reason, ok := fn(*st.current)
	if !ok {
		return nil, nil
	}
	record := modelqueue.RetiredRecord{
		ID:        uuid.New().String(),
		QueueID:   queueID,
		UID:       st.current.UID,
		Email:     st.current.Email,
		Source:    modelqueue.SourceServing,
		OriginAt:  st.current.PromotedAt,
		RetiredAt: now,
		Reason:    reason,
	}
	st.retired = append(st.retired, record)
	st.current = nil
	return &record, nil
}

// RetireWaiting records and deletes one waiting entry.
func (s *Storage) RetireWaiting(_ context.Context, queueID, entryID, reason string, now time.Time) (*modelqueue.RetiredRecord, error) {
	st, err := s.state(queueID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.waiting[entryID]
	if !ok {
		return nil, &storageErrors.NotFoundError{Entity: storageErrors.EntityWaitingEntry, ID: entryID}
	}
	record := modelqueue.RetiredRecord{
		ID:        uuid.New().String(),
		QueueID:   queueID,
		UID:       entry.UID,
		Email:     entry.Email,
		Source:    modelqueue.SourceWaiting,
		OriginAt:  entry.AdmittedAt,
		RetiredAt: now,
		Reason:    reason,
	}
	st.retired = append(st.retired, record)
	delete(st.waiting, entryID)
	delete(st.byUID, entry.UID)
	return &record, nil
}

// IsBlocked reports whether an email is on the block list.
func (s *Storage) IsBlocked(_ context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[strings.ToLower(email)]
	return ok, nil
}

// BlockEmail puts an email on the block list.
func (s *Storage) BlockEmail(_ context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[strings.ToLower(email)] = at
	return nil
}

// Close is a no-op for the in-memory storage.
func (s *Storage) Close() error { return nil }
