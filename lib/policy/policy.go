// Package policy decides whether a submitted ledger entry may be
// committed. Operators write rules as CEL expressions over the entry's
// envelope fields; the first rule that matches wins, and entries no rule
// matches fall through to the default action.
package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loglinehq/ublcore/lib/ledger"
)

// Action is what a matching rule does to an entry.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionDeny  Action = "DENY"
)

func (a Action) Valid() error {
	switch a {
	case ActionAllow, ActionDeny:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
}

var (
	ErrUnknownAction = errors.New("policy: unknown action, wanted ALLOW or DENY")
	ErrMissingName   = errors.New("policy: rule has no name")
	ErrNoMatch       = errors.New("policy: no rule matched")
)

// Rule is one named admission rule.
type Rule struct {
	Name   string           `yaml:"name"`
	Action Action           `yaml:"action"`
	Check  ExpressionOrList `yaml:"expression"`
}

func (r *Rule) Valid() error {
	var errs []error

	if r.Name == "" {
		errs = append(errs, ErrMissingName)
	}

	if err := r.Action.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := r.Check.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("policy: rule %q is not valid: %w", r.Name, errors.Join(errs...))
	}

	return nil
}

// fileConfig is the on-disk policy document.
type fileConfig struct {
	DefaultAction Action `yaml:"default_action"`
	Rules         []Rule `yaml:"rules"`
}

type compiledRule struct {
	name    string
	action  Action
	checker *CELChecker
}

// Engine holds the compiled rule chain. The zero value is not useful;
// use Load, LoadFile, or Default.
type Engine struct {
	defaultAction Action
	rules         []compiledRule
}

// Default is the engine used when no policy file is given: every
// well-formed entry is admitted.
func Default() *Engine {
	return &Engine{defaultAction: ActionAllow}
}

// Load parses and compiles a policy document. Every expression is
// compiled up front so a broken policy fails at startup.
func Load(fin io.Reader, fname string) (*Engine, error) {
	var config fileConfig

	dec := yaml.NewDecoder(fin)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("policy: can't parse %s: %w", fname, err)
	}

	if config.DefaultAction == "" {
		config.DefaultAction = ActionAllow
	}

	if err := config.DefaultAction.Valid(); err != nil {
		return nil, fmt.Errorf("policy: bad default_action in %s: %w", fname, err)
	}

	result := &Engine{defaultAction: config.DefaultAction}

	for i := range config.Rules {
		rule := &config.Rules[i]

		if err := rule.Valid(); err != nil {
			return nil, err
		}

		checker, err := NewCELChecker(&rule.Check)
		if err != nil {
			return nil, fmt.Errorf("policy: can't compile rule %q: %w", rule.Name, err)
		}

		slog.Debug("compiled admission rule", "name", rule.Name, "action", rule.Action, "hash", checker.Hash())

		result.rules = append(result.rules, compiledRule{
			name:    rule.Name,
			action:  rule.Action,
			checker: checker,
		})
	}

	return result, nil
}

// LoadFile reads a policy document from disk.
func LoadFile(fname string) (*Engine, error) {
	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("policy: can't open %s: %w", fname, err)
	}
	defer fin.Close()

	return Load(fin, fname)
}

// Decision is the outcome of admitting one entry.
type Decision struct {
	Allow bool
	// Rule names the matching rule, or is empty when the default action
	// applied.
	Rule string
}

// Admit evaluates the rule chain in order against entry. The first
// matching rule decides; a rule whose expression errors is treated as
// matching with DENY, since an entry a rule can't evaluate should never
// slip through.
func (e *Engine) Admit(ctx context.Context, entry *ledger.Entry) (Decision, error) {
	for _, rule := range e.rules {
		ok, err := rule.checker.Check(ctx, entry)
		if err != nil {
			return Decision{Allow: false, Rule: rule.name}, fmt.Errorf("policy: rule %q failed to evaluate: %w", rule.name, err)
		}

		if ok {
			return Decision{Allow: rule.action == ActionAllow, Rule: rule.name}, nil
		}
	}

	return Decision{Allow: e.defaultAction == ActionAllow}, nil
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int { return len(e.rules) }
