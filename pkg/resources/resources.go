// Package resources implements the scoped resource manager (spec component
// referenced by C6 step 2), injected as a collaborator rather than consumed
// as a process-wide singleton — the redesign spec §9 recommends over the
// original's global resource manager.
package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/kiln/pkg/types"
)

// Handle is released exactly once, on every exec exit path.
type Handle interface {
	Release()
}

// Manager acquires scoped resource handles sized by a spawn's local-resources
// request, blocking while accounting is unavailable.
type Manager interface {
	Acquire(ctx context.Context, owner string, spec types.ResourceSpec) (Handle, error)
}

// pollInterval governs how often SemaphoreManager re-checks availability
// while blocked. A polling loop is used instead of sync.Cond specifically
// so a caller's context cancellation is observed promptly without leaking a
// goroutine waiting on a condition variable nobody will signal again.
const pollInterval = 5 * time.Millisecond

// SemaphoreManager is the reference Manager: a fixed CPU/memory budget
// shared across concurrent acquisitions.
type SemaphoreManager struct {
	mu         sync.Mutex
	totalCPU   float64
	totalMemMB int64
	usedCPU    float64
	usedMemMB  int64
}

// NewSemaphoreManager constructs a Manager with the given total budget.
func NewSemaphoreManager(totalCPU float64, totalMemMB int64) *SemaphoreManager {
	return &SemaphoreManager{totalCPU: totalCPU, totalMemMB: totalMemMB}
}

type semaphoreHandle struct {
	m      *SemaphoreManager
	cpu    float64
	memMB  int64
	once   sync.Once
}

func (h *semaphoreHandle) Release() {
	h.once.Do(func() {
		h.m.mu.Lock()
		h.m.usedCPU -= h.cpu
		h.m.usedMemMB -= h.memMB
		h.m.mu.Unlock()
	})
}

// Acquire blocks until spec's requested CPU and memory fit within the
// remaining budget, or ctx is done.
func (m *SemaphoreManager) Acquire(ctx context.Context, owner string, spec types.ResourceSpec) (Handle, error) {
	if spec.CPU > m.totalCPU || spec.MemoryMB > m.totalMemMB {
		return nil, fmt.Errorf("resource request for %s (cpu=%.2f mem=%dMB) exceeds total budget (cpu=%.2f mem=%dMB)",
			owner, spec.CPU, spec.MemoryMB, m.totalCPU, m.totalMemMB)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if m.tryAcquire(spec) {
			return &semaphoreHandle{m: m, cpu: spec.CPU, memMB: spec.MemoryMB}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *SemaphoreManager) tryAcquire(spec types.ResourceSpec) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.usedCPU+spec.CPU > m.totalCPU || m.usedMemMB+spec.MemoryMB > m.totalMemMB {
		return false
	}
	m.usedCPU += spec.CPU
	m.usedMemMB += spec.MemoryMB
	return true
}
