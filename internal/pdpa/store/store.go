package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"zynx/internal/pdpa/models"
	dErrors "zynx/pkg/domain-errors"
)

// InMemoryStore keeps the ledger's three record collections behind one
// RWMutex. Compound operations (scan-then-delete, lookup-then-mutate) run as
// a single transaction through Update or View, so no caller observes a
// partially applied change. Every collection preserves insertion order.
type InMemoryStore struct {
	mu sync.RWMutex

	consents   collection[models.ConsentRecord]
	processing collection[models.ProcessingRecord]
	rights     collection[models.RightsRequest]
}

// New constructs an empty in-memory store.
func New() *InMemoryStore {
	return &InMemoryStore{
		consents:   newCollection[models.ConsentRecord](),
		processing: newCollection[models.ProcessingRecord](),
		rights:     newCollection[models.RightsRequest](),
	}
}

// Update runs fn with exclusive access to every collection.
func (s *InMemoryStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{store: s, writable: true})
}

// View runs fn with shared read access. Mutating a record through a
// read-only Tx is a programming error and panics.
func (s *InMemoryStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{store: s})
}

// Tx is the view of the store handed to a transaction function. It is only
// valid for the duration of that function. Records returned by Tx are live:
// callers must Clone before letting them escape.
type Tx struct {
	store    *InMemoryStore
	writable bool
}

func (tx *Tx) mustWrite() {
	if !tx.writable {
		panic("store: write in read-only transaction")
	}
}

func (tx *Tx) InsertConsent(record models.ConsentRecord) {
	tx.mustWrite()
	tx.store.consents.insert(record.ID, record)
}

// Consent returns the live record for id.
func (tx *Tx) Consent(id string) (*models.ConsentRecord, bool) {
	return tx.store.consents.get(id)
}

// Consents returns live records accepted by match, in insertion order.
func (tx *Tx) Consents(match func(*models.ConsentRecord) bool) []*models.ConsentRecord {
	return tx.store.consents.filter(match)
}

// RemoveConsents deletes every consent accepted by match and returns the count.
func (tx *Tx) RemoveConsents(match func(*models.ConsentRecord) bool) int {
	tx.mustWrite()
	return tx.store.consents.remove(match)
}

func (tx *Tx) InsertProcessing(record models.ProcessingRecord) {
	tx.mustWrite()
	tx.store.processing.insert(record.ID, record)
}

func (tx *Tx) ProcessingRecords(match func(*models.ProcessingRecord) bool) []*models.ProcessingRecord {
	return tx.store.processing.filter(match)
}

func (tx *Tx) RemoveProcessing(match func(*models.ProcessingRecord) bool) int {
	tx.mustWrite()
	return tx.store.processing.remove(match)
}

func (tx *Tx) InsertRights(request models.RightsRequest) {
	tx.mustWrite()
	tx.store.rights.insert(request.ID, request)
}

func (tx *Tx) Rights(id string) (*models.RightsRequest, bool) {
	return tx.store.rights.get(id)
}

func (tx *Tx) RightsRequests(match func(*models.RightsRequest) bool) []*models.RightsRequest {
	return tx.store.rights.filter(match)
}

func (tx *Tx) RemoveRights(match func(*models.RightsRequest) bool) int {
	tx.mustWrite()
	return tx.store.rights.remove(match)
}

// Counts reports collection sizes.
func (tx *Tx) Counts() (consents, processing, rights int) {
	return tx.store.consents.len(), tx.store.processing.len(), tx.store.rights.len()
}

// collection is an insertion-ordered map of records keyed by id.
type collection[T any] struct {
	order []string
	byID  map[string]*T
}

func newCollection[T any]() collection[T] {
	return collection[T]{byID: make(map[string]*T)}
}

func (c *collection[T]) insert(id string, v T) {
	if _, exists := c.byID[id]; !exists {
		c.order = append(c.order, id)
	}
	c.byID[id] = &v
}

func (c *collection[T]) get(id string) (*T, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *collection[T]) filter(match func(*T) bool) []*T {
	out := make([]*T, 0)
	for _, id := range c.order {
		v := c.byID[id]
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out
}

func (c *collection[T]) remove(match func(*T) bool) int {
	removed := 0
	c.order = slices.DeleteFunc(c.order, func(id string) bool {
		if match(c.byID[id]) {
			delete(c.byID, id)
			removed++
			return true
		}
		return false
	})
	return removed
}

func (c *collection[T]) len() int {
	return len(c.order)
}

// ExpiredConsent matches granted consents whose expiry has been reached.
func ExpiredConsent(now time.Time) func(*models.ConsentRecord) bool {
	return func(c *models.ConsentRecord) bool {
		return c.EffectiveStatus(now) == models.ConsentExpired
	}
}
