package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/haukened/dohdec/internal/dns/common/clock"
	"github.com/haukened/dohdec/internal/dns/domain"
)

// random draws before falling back to a scan of the id space
const maxIDAttempts = 64

// Result completes a pending request: either the raw response frame or an error.
type Result struct {
	Frame []byte
	Err   error
}

// PendingEntry is one in-flight request. Its completion fires exactly once.
type PendingEntry struct {
	ID        uint16
	Request   domain.LookupRequest
	CreatedAt time.Time

	done chan Result
}

// Done delivers the single Result for this entry.
func (e *PendingEntry) Done() <-chan Result {
	return e.done
}

// PendingTable maps transaction ids to in-flight requests for one connection.
// Ids of cancelled requests stay reserved until their late response arrives
// or the table is rejected, so a late answer is never mistaken for a stray one.
type PendingTable struct {
	mu        sync.Mutex
	entries   map[uint16]*PendingEntry
	abandoned map[uint16]struct{}
	clock     clock.Clock
	random    func() (uint16, error)
}

// NewPendingTable returns an empty table. A nil random source uses crypto/rand.
func NewPendingTable(clk clock.Clock, random func() (uint16, error)) *PendingTable {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if random == nil {
		random = randomID
	}
	return &PendingTable{
		entries:   make(map[uint16]*PendingEntry),
		abandoned: make(map[uint16]struct{}),
		clock:     clk,
		random:    random,
	}
}

// Allocate returns an id that is neither pending nor abandoned. Ids are drawn at random;
// when the table is nearly full the remaining free ids are found by scanning.
func (t *PendingTable) Allocate() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var start uint16
	for i := 0; i < maxIDAttempts; i++ {
		id, err := t.random()
		if err != nil {
			return 0, fmt.Errorf("random transaction id: %w", err)
		}
		if !t.busy(id) {
			return id, nil
		}
		start = id
	}
	for i := 1; i <= 0xffff; i++ {
		id := start + uint16(i)
		if !t.busy(id) {
			return id, nil
		}
	}
	return 0, domain.ErrIDSpaceExhausted
}

// Register records req under id. An abandoned id counts as in use.
func (t *PendingTable) Register(id uint16, req domain.LookupRequest) (*PendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.busy(id) {
		return nil, fmt.Errorf("%w: %d", domain.ErrIDInUse, id)
	}
	entry := &PendingEntry{
		ID:        id,
		Request:   req,
		CreatedAt: t.clock.Now(),
		done:      make(chan Result, 1),
	}
	t.entries[id] = entry
	return entry, nil
}

// Resolve completes the entry for id with frame. It reports false when no
// such entry exists.
func (t *PendingTable) Resolve(id uint16, frame []byte) bool {
	entry := t.take(id)
	if entry == nil {
		return false
	}
	entry.done <- Result{Frame: frame}
	return true
}

// Cancel removes the entry for id, failing it with context.Canceled, and
// marks id abandoned. Other entries are untouched.
func (t *PendingTable) Cancel(id uint16) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.abandoned[id] = struct{}{}
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.done <- Result{Err: context.Canceled}
	return true
}

// Discard releases an abandoned id once its late response has arrived. It
// reports false when id was not abandoned.
func (t *PendingTable) Discard(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.abandoned[id]; !ok {
		return false
	}
	delete(t.abandoned, id)
	return true
}

// RejectAll fails every entry with a *domain.DisconnectedError carrying
// cause, empties the table, forgets abandoned ids and returns how many
// entries were failed.
func (t *PendingTable) RejectAll(cause error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint16]*PendingEntry)
	t.abandoned = make(map[uint16]struct{})
	t.mu.Unlock()

	for _, entry := range entries {
		entry.done <- Result{Err: &domain.DisconnectedError{
			Name:  entry.Request.Name,
			Type:  entry.Request.RecordType,
			Cause: cause,
		}}
	}
	return len(entries)
}

// Len returns the number of pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Abandoned returns the number of cancelled ids still awaiting a late response.
func (t *PendingTable) Abandoned() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.abandoned)
}

// busy must be called with mu held.
func (t *PendingTable) busy(id uint16) bool {
	if _, ok := t.entries[id]; ok {
		return true
	}
	_, ok := t.abandoned[id]
	return ok
}

func (t *PendingTable) take(id uint16) *PendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return entry
}

func randomID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
