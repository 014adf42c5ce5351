package policy

import (
	"errors"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	ErrExpressionOrListMustBeStringOrObject = errors.New("policy: this must be a string or an object")
	ErrExpressionEmpty                      = errors.New("policy: this expression is empty")
	ErrExpressionCantHaveBoth               = errors.New("policy: expression block can't contain multiple expression types")
)

// ExpressionOrList is either a single CEL expression or a block of
// clauses combined with all-of or any-of semantics.
type ExpressionOrList struct {
	Expression string   `yaml:"-"`
	All        []string `yaml:"all"`
	Any        []string `yaml:"any"`
}

func (eol ExpressionOrList) Equal(rhs *ExpressionOrList) bool {
	if eol.Expression != rhs.Expression {
		return false
	}

	if !slices.Equal(eol.All, rhs.All) {
		return false
	}

	if !slices.Equal(eol.Any, rhs.Any) {
		return false
	}

	return true
}

func (eol *ExpressionOrList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode: // string
		return node.Decode(&eol.Expression)
	case yaml.MappingNode: // all/any block
		type RawExpressionOrList ExpressionOrList
		var val RawExpressionOrList
		if err := node.Decode(&val); err != nil {
			return err
		}
		eol.All = val.All
		eol.Any = val.Any

		return nil
	}

	return ErrExpressionOrListMustBeStringOrObject
}

func (eol *ExpressionOrList) Valid() error {
	if eol.Expression == "" && len(eol.All) == 0 && len(eol.Any) == 0 {
		return ErrExpressionEmpty
	}

	if len(eol.All) != 0 && len(eol.Any) != 0 {
		return ErrExpressionCantHaveBoth
	}

	return nil
}

// String reconstructs the source text the checker hashes over.
func (eol *ExpressionOrList) String() string {
	switch {
	case eol.Expression != "":
		return eol.Expression
	case len(eol.All) != 0:
		return "all(" + join(eol.All) + ")"
	case len(eol.Any) != 0:
		return "any(" + join(eol.Any) + ")"
	}
	return ""
}

func join(clauses []string) string {
	result := ""
	for i, clause := range clauses {
		if i > 0 {
			result += "; "
		}
		result += clause
	}
	return result
}
