package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/loglinehq/ublcore/internal"
	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/policy/expressions"
)

// CELChecker evaluates one compiled admission expression against a
// submitted ledger entry.
type CELChecker struct {
	src     string
	program cel.Program
}

func NewCELChecker(cfg *ExpressionOrList) (*CELChecker, error) {
	env, err := expressions.NewEnvironment()
	if err != nil {
		return nil, err
	}

	src := cfg.String()
	var ast *cel.Ast

	if cfg.Expression != "" {
		var iss *cel.Issues
		interm, iss := env.Compile(cfg.Expression)
		if iss != nil {
			return nil, iss.Err()
		}

		ast, iss = env.Check(interm)
		if iss != nil {
			return nil, iss.Err()
		}
	}

	if len(cfg.All) != 0 {
		ast, err = expressions.Join(env, expressions.JoinAnd, cfg.All...)
	}

	if len(cfg.Any) != 0 {
		ast, err = expressions.Join(env, expressions.JoinOr, cfg.Any...)
	}

	if err != nil {
		return nil, err
	}

	program, err := expressions.Compile(env, ast)
	if err != nil {
		return nil, fmt.Errorf("can't compile CEL program: %w", err)
	}

	return &CELChecker{
		src:     src,
		program: program,
	}, nil
}

// Hash is a fast non-cryptographic identity for the rule source, used in
// logs and metrics labels.
func (cc *CELChecker) Hash() string {
	return internal.FastHash(cc.src)
}

func (cc *CELChecker) Check(ctx context.Context, entry *ledger.Entry) (bool, error) {
	result, _, err := cc.program.ContextEval(ctx, &CELEntry{entry})

	if err != nil {
		return false, err
	}

	if val, ok := result.(types.Bool); ok {
		return bool(val), nil
	}

	return false, nil
}

// CELEntry exposes a ledger entry as a CEL activation.
type CELEntry struct {
	*ledger.Entry
}

func (ce *CELEntry) Parent() cel.Activation { return nil }

func (ce *CELEntry) ResolveName(name string) (any, bool) {
	switch name {
	case "sender":
		return ce.SenderDID, true
	case "target":
		if ce.TargetDID == nil {
			return "", true
		}
		return *ce.TargetDID, true
	case "group":
		if ce.GroupID == nil {
			return "", true
		}
		return *ce.GroupID, true
	case "payloadType":
		return ce.PayloadType, true
	case "riskLevel":
		if ce.RiskLevel == "" {
			return ledger.RiskLowest, true
		}
		return ce.RiskLevel, true
	case "payload":
		if ce.Payload == nil {
			return map[string]any{}, true
		}
		return ce.Payload, true
	default:
		return nil, false
	}
}
