package policy

import (
	"context"
	"fmt"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// Gate combines an access policy engine with the lock state. It fails closed: an engine
// error denies the request.
type Gate struct {
	engine service.AccessPolicyEngine
	lock   service.LockState
	logger logger.Logger
}

// NewGate creates a new access gate.
func NewGate(engine service.AccessPolicyEngine, lock service.LockState, log logger.Logger) *Gate {
	return &Gate{
		engine: engine,
		lock:   lock,
		logger: log.WithComponent("AccessGate"),
	}
}

// Check returns repository.ErrAccessDenied unless the request is allowed.
func (g *Gate) Check(ctx context.Context, kind constants.KeyKind, policy constants.AccessPolicy, op constants.Operation) error {
	req := models.AccessRequest{
		Kind:      kind,
		Policy:    policy,
		Operation: op,
		Unlocked:  g.lock.Unlocked(ctx),
	}
	allowed, err := g.engine.Authorize(ctx, req)
	if err != nil {
		g.logger.Error(ctx, "Access policy evaluation failed", err, logger.Fields{"policy": policy, "operation": op})
		return fmt.Errorf("%w: policy evaluation failed", repository.ErrAccessDenied)
	}
	if !allowed {
		g.logger.Debug(ctx, "Access denied", logger.Fields{"kind": kind, "policy": policy, "operation": op, "unlocked": req.Unlocked})
		return repository.ErrAccessDenied
	}
	return nil
}

var _ service.AccessGate = (*Gate)(nil)
