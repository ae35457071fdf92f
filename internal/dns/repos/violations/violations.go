package violations

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/transport"
)

// Log keeps the most recent responses that matched no pending
// request, using an LRU keyed by arrival order so the oldest are evicted
// first.
type Log struct {
	mu  sync.Mutex
	seq uint64
	lru *lru.Cache[uint64, domain.Violation]
}

// New returns a log that retains at most size violations.
func New(size int) (*Log, error) {
	cache, err := lru.New[uint64, domain.Violation](size)
	if err != nil {
		return nil, err
	}
	return &Log{lru: cache}, nil
}

// Record stores v, evicting the oldest entry when full. The frame is copied.
func (l *Log) Record(v domain.Violation) {
	v.Frame = append([]byte(nil), v.Frame...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.lru.Add(l.seq, v)
}

// Recent returns up to n violations, newest first. n <= 0 returns all.
func (l *Log) Recent(n int) []domain.Violation {
	keys := l.lru.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}
	out := make([]domain.Violation, 0, n)
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if v, ok := l.lru.Peek(keys[i]); ok {
			out = append(out, v)
		}
	}
	return out
}

// Total returns how many violations were ever recorded, including evicted ones.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Len returns the number of violations currently retained.
func (l *Log) Len() int {
	return l.lru.Len()
}

// Purge drops every retained violation.
func (l *Log) Purge() {
	l.lru.Purge()
}

var _ transport.ViolationRecorder = (*Log)(nil)
