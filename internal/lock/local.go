// Package lock provides per-cohort mutual exclusion for processing runs.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// Local serializes runs inside one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process cohort locker
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire marks cohort as held. It never blocks.
func (l *Local) Acquire(_ context.Context, cohort string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[cohort]; ok {
		return nil, fmt.Errorf("cohort %s: %w", cohort, domain.ErrCohortLocked)
	}
	l.held[cohort] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, cohort)
			l.mu.Unlock()
		})
	}, nil
}
