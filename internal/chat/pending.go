package chat

import (
	"fmt"
	"sync"
	"time"
)

type pendingRecord struct {
	tempID       string
	conversation ConversationKey
	createdAt    time.Time
	timer        *time.Timer
}

// PendingSendRegistry tracks in-flight optimistic sends by temp id and owns
// their rollback timers. Removal doubles as the claim: whichever of
// {confirmation, explicit error, timeout} deletes the record first is the one
// authorized to act, the others become no-ops.
type PendingSendRegistry struct {
	mu      sync.Mutex
	records map[string]*pendingRecord
}

func NewPendingSendRegistry() *PendingSendRegistry {
	return &PendingSendRegistry{records: map[string]*pendingRecord{}}
}

// Register creates the record and, when timeout is positive, arms the
// rollback timer. onTimeout runs only if the timer wins the claim.
func (r *PendingSendRegistry) Register(tempID string, conversation ConversationKey, timeout time.Duration, onTimeout func()) error {
	if tempID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[tempID]; exists {
		return fmt.Errorf("%w: duplicate pending send %s", ErrInvalidInput, tempID)
	}
	rec := &pendingRecord{
		tempID:       tempID,
		conversation: conversation,
		createdAt:    time.Now(),
	}
	if timeout > 0 {
		rec.timer = time.AfterFunc(timeout, func() {
			if r.claim(tempID) && onTimeout != nil {
				onTimeout()
			}
		})
	}
	r.records[tempID] = rec
	return nil
}

// Confirm claims the record and cancels its timer. Returns false when the
// record was already claimed (or never existed), in which case the caller
// must not act on the optimistic entry.
func (r *PendingSendRegistry) Confirm(tempID string) bool {
	r.mu.Lock()
	rec, ok := r.records[tempID]
	if ok {
		delete(r.records, tempID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	return true
}

func (r *PendingSendRegistry) IsPending(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[tempID]
	return ok
}

func (r *PendingSendRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Close cancels every outstanding timer without firing rollbacks.
func (r *PendingSendRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(r.records, id)
	}
}

func (r *PendingSendRegistry) claim(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[tempID]; !ok {
		return false
	}
	delete(r.records, tempID)
	return true
}
