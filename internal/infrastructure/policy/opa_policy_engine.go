package policy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
)

const accessQuery = "data.custody.access.allow"

// DefaultRegoModule expresses the built-in access rules in Rego.
const DefaultRegoModule = `package custody.access

default allow = false

private_ops := {"resolve", "delete", "decrypt", "sign", "seal", "open"}

allow {
	input.policy == "always"
}

allow {
	input.policy == "when_unlocked"
	input.unlocked == true
}

allow {
	input.policy == "when_unlocked_private_ops"
	input.unlocked == true
	private_ops[input.operation]
}
`

// OPAPolicyEngine evaluates access requests with a prepared Rego query.
type OPAPolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewOPAPolicyEngine compiles module and prepares the allow query. The module must
// define data.custody.access.allow.
func NewOPAPolicyEngine(ctx context.Context, module string) (*OPAPolicyEngine, error) {
	r := rego.New(
		rego.Query(accessQuery),
		rego.Module("custody_access.rego", module),
		rego.StrictBuiltinErrors(true),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare access policy: %w", err)
	}
	return &OPAPolicyEngine{query: prepared}, nil
}

// NewOPAPolicyEngineFromFile loads a Rego module from disk.
func NewOPAPolicyEngineFromFile(ctx context.Context, path string) (*OPAPolicyEngine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rego file: %w", err)
	}
	return NewOPAPolicyEngine(ctx, string(src))
}

// Authorize evaluates the request. A non-boolean result is an error.
func (e *OPAPolicyEngine) Authorize(ctx context.Context, req models.AccessRequest) (bool, error) {
	input := map[string]interface{}{
		"kind":      string(req.Kind),
		"policy":    string(req.Policy),
		"operation": string(req.Operation),
		"unlocked":  req.Unlocked,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, errors.New("empty policy result")
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy result is %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

var _ service.AccessPolicyEngine = (*OPAPolicyEngine)(nil)
