package pendingbatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/logger"
	"github.com/flowsend/flowsend/internal/metrics"
	"github.com/flowsend/flowsend/internal/models"
)

// Batch states. A record leaves the store on every terminal transition
// (confirmed, declined, expired), so only pending records are ever held.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDeclined  State = "declined"
	StateExpired   State = "expired"
)

const (
	DefaultTTL      = 15 * time.Minute
	janitorInterval = time.Minute
)

// Batch is the ownership record of a completed bulk tip awaiting the
// initiator's broadcast decision.
type Batch struct {
	ID        uuid.UUID
	OwnerID   string
	Entries   []models.TipEntry
	Total     int64
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store holds at most one pending batch per owner, in memory. The
// conversational state is process local on purpose: a restart loses
// unconfirmed batches and the initiator simply gets "no pending bulk
// tip" on a stale button.
type Store struct {
	mu      sync.Mutex
	batches map[string]Batch

	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
}

func NewStore(ttl time.Duration, l logger.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Store{
		batches: make(map[string]Batch),
		ttl:     ttl,
		logger:  l,
		now:     time.Now,
	}
}

// Put stores a new pending batch for the owner, overwriting any batch
// still awaiting a decision.
func (s *Store) Put(ownerID string, entries []models.TipEntry) Batch {
	now := s.now()
	batch := Batch{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Entries:   entries,
		Total:     models.Total(entries),
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.batches[ownerID] = batch
	size := len(s.batches)
	s.mu.Unlock()

	metrics.PendingBatches.Set(float64(size))
	return batch
}

// Get peeks at the owner's pending batch without consuming it. Used to
// validate that a broadcast confirmation is still in context before
// asking where to send it.
func (s *Store) Get(ownerID string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[ownerID]
	if !ok || s.now().After(batch.ExpiresAt) {
		return Batch{}, apperrors.ErrBatchNotFound
	}

	return batch, nil
}

// Take returns the owner's pending batch exactly once, transitioning it
// to confirmed and dropping the record. A second Take, a foreign owner,
// or an expired record all yield apperrors.ErrBatchNotFound.
func (s *Store) Take(ownerID string) (Batch, error) {
	s.mu.Lock()
	defer func() {
		size := len(s.batches)
		s.mu.Unlock()
		metrics.PendingBatches.Set(float64(size))
	}()

	batch, ok := s.batches[ownerID]
	if !ok {
		return Batch{}, apperrors.ErrBatchNotFound
	}

	if s.now().After(batch.ExpiresAt) {
		delete(s.batches, ownerID)
		s.logger.Debug("Pending batch expired on access", "owner_id", ownerID, "batch_id", batch.ID)
		return Batch{}, apperrors.ErrBatchNotFound
	}

	delete(s.batches, ownerID)
	batch.State = StateConfirmed
	return batch, nil
}

// Decline drops the owner's pending batch. Declining is a terminal
// transition and clears the record, it is not a no-op.
func (s *Store) Decline(ownerID string) error {
	s.mu.Lock()
	defer func() {
		size := len(s.batches)
		s.mu.Unlock()
		metrics.PendingBatches.Set(float64(size))
	}()

	batch, ok := s.batches[ownerID]
	if !ok {
		return apperrors.ErrBatchNotFound
	}
	if s.now().After(batch.ExpiresAt) {
		delete(s.batches, ownerID)
		return apperrors.ErrBatchNotFound
	}

	delete(s.batches, ownerID)
	return nil
}

// Sweep removes expired records, returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for owner, batch := range s.batches {
		if now.After(batch.ExpiresAt) {
			delete(s.batches, owner)
			removed++
		}
	}
	size := len(s.batches)
	s.mu.Unlock()

	metrics.PendingBatches.Set(float64(size))
	return removed
}

// Janitor sweeps expired records periodically until the context is
// cancelled. Returns a channel closed when the janitor stopped.
func (s *Store) Janitor(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Pending batch janitor stopped")
				return

			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					s.logger.Info("Swept expired pending batches", "removed", removed)
				}
			}
		}
	}()

	return idleStopped
}
