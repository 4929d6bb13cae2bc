// Package policy decides whether a stored key may be used in the current custody context.
package policy

import (
	"context"
	"sync/atomic"

	"github.com/turtacn/custody/internal/domain/service"
)

// LockState models whether the custody context is unlocked. It starts in the given state.
type LockState struct {
	unlocked atomic.Bool
}

// NewLockState creates a lock state.
func NewLockState(unlocked bool) *LockState {
	s := &LockState{}
	s.unlocked.Store(unlocked)
	return s
}

func (s *LockState) Unlocked(context.Context) bool { return s.unlocked.Load() }
func (s *LockState) Lock()                          { s.unlocked.Store(false) }
func (s *LockState) Unlock()                        { s.unlocked.Store(true) }

var _ service.LockState = (*LockState)(nil)
