package policy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
)

// StaticPolicyEngine implements the service.AccessPolicyEngine interface using a static, file-based configuration.
// It holds one rule per access policy and evaluates requests against it.
// StaticPolicyEngine 使用静态的、基于文件的配置来实现 service.AccessPolicyEngine 接口。
// 它为每个访问策略保存一条规则，并据此评估请求。
type StaticPolicyEngine struct {
	policies map[constants.AccessPolicy]AccessRule
}

// AccessRule defines the conditions attached to one access policy.
// These rules are loaded from the YAML configuration file.
// AccessRule 定义了附加到某一访问策略的条件。
// 这些规则是从 YAML 配置文件中加载的。
type AccessRule struct {
	// RequireUnlocked denies every operation while the custody context is locked.
	// RequireUnlocked 在托管上下文锁定时拒绝所有操作。
	RequireUnlocked bool `yaml:"requireUnlocked"`
	// Operations restricts the allowed operations. An empty list allows all.
	// Operations 限制允许的操作。空列表表示全部允许。
	Operations []constants.Operation `yaml:"operations"`
}

// privateOperations are the operations a private-ops-only key may serve.
var privateOperations = []constants.Operation{
	constants.OpResolve,
	constants.OpDelete,
	constants.OpDecrypt,
	constants.OpSign,
	constants.OpSeal,
	constants.OpOpen,
}

// DefaultAccessRules returns the built-in rule set.
func DefaultAccessRules() map[constants.AccessPolicy]AccessRule {
	return map[constants.AccessPolicy]AccessRule{
		constants.AccessAlways:                 {},
		constants.AccessWhenUnlocked:           {RequireUnlocked: true},
		constants.AccessWhenUnlockedPrivateOps: {RequireUnlocked: true, Operations: privateOperations},
	}
}

// NewStaticPolicyEngine creates an engine with the built-in rules.
func NewStaticPolicyEngine() *StaticPolicyEngine {
	return &StaticPolicyEngine{policies: DefaultAccessRules()}
}

// NewStaticPolicyEngineFromFile creates and initializes a new StaticPolicyEngine by loading rules from a specified file path.
// Rules in the file replace the built-in rule of the same policy.
// NewStaticPolicyEngineFromFile 通过从指定的文件路径加载规则来创建 StaticPolicyEngine。
func NewStaticPolicyEngineFromFile(policyFilePath string) (*StaticPolicyEngine, error) {
	file, err := os.ReadFile(policyFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var rules map[constants.AccessPolicy]AccessRule
	if err := yaml.Unmarshal(file, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy file: %w", err)
	}

	engine := NewStaticPolicyEngine()
	for policy, rule := range rules {
		if !policy.Valid() {
			return nil, fmt.Errorf("unknown access policy in policy file: %s", policy)
		}
		engine.policies[policy] = rule
	}
	return engine, nil
}

// Authorize evaluates an access request. Unknown policies are denied.
// Authorize 评估访问请求。未知策略将被拒绝。
func (e *StaticPolicyEngine) Authorize(ctx context.Context, req models.AccessRequest) (bool, error) {
	rule, ok := e.policies[req.Policy]
	if !ok {
		return false, nil
	}
	if rule.RequireUnlocked && !req.Unlocked {
		return false, nil
	}
	if len(rule.Operations) == 0 {
		return true, nil
	}
	for _, op := range rule.Operations {
		if op == req.Operation {
			return true, nil
		}
	}
	return false, nil
}

var _ service.AccessPolicyEngine = (*StaticPolicyEngine)(nil)
