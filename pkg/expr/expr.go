// Package expr compiles survey rule expressions and template placeholders.
//
// Expressions use the expr-lang syntax. Before compilation every reference to
// a question is normalised: {{ q1.answer }}, q1.answer and bare q1 all read the
// answer of q1, while q1.comment and comments.q1 read its comment.
package expr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Root identifiers with special meaning inside expressions.
const (
	RootAgent     = "agent"
	RootScenario  = "scenario"
	RootComments  = "comments"
	RootModel     = "model"
	RootIteration = "iteration"
)

// Reserved lists the names a question may not take.
var Reserved = []string{RootAgent, RootScenario, RootComments, RootModel, RootIteration}

// IsReserved reports whether name collides with an expression root.
func IsReserved(name string) bool {
	for _, r := range Reserved {
		if r == name {
			return true
		}
	}
	return false
}

var braceRef = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Scope lists the names an expression may reference.
type Scope struct {
	// Questions are the question names visible to the expression.
	Questions map[string]bool
	// BareScenario resolves unknown bare identifiers as scenario fields.
	BareScenario bool
}

// Refs describes everything an expression reads.
type Refs struct {
	Answers  []string
	Comments []string
	Agent    []string
	Scenario []string
	Model    []string
}

// Questions returns every question read, answer or comment, sorted.
func (r Refs) Questions() []string {
	return union(r.Answers, r.Comments)
}

func (r Refs) merge(o Refs) Refs {
	return Refs{
		Answers:  union(r.Answers, o.Answers),
		Comments: union(r.Comments, o.Comments),
		Agent:    union(r.Agent, o.Agent),
		Scenario: union(r.Scenario, o.Scenario),
		Model:    union(r.Model, o.Model),
	}
}

// Program is a compiled expression.
type Program struct {
	source string
	refs   Refs
	prog   *vm.Program
}

// Compile normalises and compiles source against scope. Unknown references
// fail with RULE_INVALID.
func Compile(source string, scope Scope) (*Program, error) {
	normalized := strings.TrimSpace(braceRef.ReplaceAllString(source, "($1)"))
	if normalized == "" {
		return nil, errors.New(errors.ErrCodeRuleInvalid, "empty expression").
			WithContext("expression", source)
	}

	tree, err := parser.Parse(normalized)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRuleInvalid, "parse expression").
			WithContext("expression", source)
	}

	refs, err := collectRefs(&tree.Node, scope)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRuleInvalid, "resolve expression").
			WithContext("expression", source)
	}

	prog, err := exprlang.Compile(normalized,
		exprlang.Env(envShape()),
		exprlang.AllowUndefinedVariables(),
		exprlang.Patch(&normalizer{scope: scope}),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRuleInvalid, "compile expression").
			WithContext("expression", source)
	}

	return &Program{source: source, refs: refs, prog: prog}, nil
}

// Source returns the expression as written.
func (p *Program) Source() string { return p.source }

// Refs returns what the expression reads.
func (p *Program) Refs() Refs { return p.refs }

// Eval runs the program against env.
func (p *Program) Eval(env Env) (any, error) {
	out, err := exprlang.Run(p.prog, env.Map())
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	return out, nil
}

// EvalBool runs the program and requires a boolean result.
func (p *Program) EvalBool(env Env) (bool, error) {
	out, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", p.source, out)
	}
	return b, nil
}

// envShape declares the roots. Question names were already checked by
// collectRefs and resolve at run time as untyped values.
func envShape() map[string]any {
	return map[string]any{
		RootAgent:     map[string]any{},
		RootScenario:  map[string]any{},
		RootComments:  map[string]any{},
		RootModel:     map[string]any{},
		RootIteration: 0,
	}
}

type refCollector struct {
	idents  []*ast.IdentifierNode
	members []*ast.MemberNode
	calls   []*ast.CallNode
}

func (c *refCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	case *ast.MemberNode:
		c.members = append(c.members, n)
	case *ast.CallNode:
		c.calls = append(c.calls, n)
	}
}

func collectRefs(root *ast.Node, scope Scope) (Refs, error) {
	c := &refCollector{}
	ast.Walk(root, c)

	var refs Refs
	handled := make(map[*ast.IdentifierNode]bool)

	for _, call := range c.calls {
		if id, ok := call.Callee.(*ast.IdentifierNode); ok {
			return Refs{}, fmt.Errorf("unknown function %q", id.Value)
		}
	}

	for _, m := range c.members {
		base, ok := m.Node.(*ast.IdentifierNode)
		if !ok {
			continue
		}
		prop, ok := m.Property.(*ast.StringNode)
		if !ok {
			continue
		}
		handled[base] = true

		switch {
		case base.Value == RootAgent:
			refs.Agent = append(refs.Agent, prop.Value)
		case base.Value == RootScenario:
			refs.Scenario = append(refs.Scenario, prop.Value)
		case base.Value == RootModel:
			refs.Model = append(refs.Model, prop.Value)
		case base.Value == RootComments:
			if !scope.Questions[prop.Value] {
				return Refs{}, fmt.Errorf("comment reference to unknown question %q", prop.Value)
			}
			refs.Comments = append(refs.Comments, prop.Value)
		case scope.Questions[base.Value]:
			switch prop.Value {
			case "answer":
				refs.Answers = append(refs.Answers, base.Value)
			case "comment":
				refs.Comments = append(refs.Comments, base.Value)
			default:
				return Refs{}, fmt.Errorf("unsupported field %q on question %q (want answer or comment)", prop.Value, base.Value)
			}
		case scope.BareScenario:
			handled[base] = false
		default:
			return Refs{}, fmt.Errorf("unknown reference %q", base.Value+"."+prop.Value)
		}
	}

	for _, id := range c.idents {
		if handled[id] {
			continue
		}
		switch {
		case scope.Questions[id.Value]:
			refs.Answers = append(refs.Answers, id.Value)
		case id.Value == RootIteration:
		case IsReserved(id.Value):
			return Refs{}, fmt.Errorf("%q must be used with a field, e.g. %s.name", id.Value, id.Value)
		case scope.BareScenario:
			refs.Scenario = append(refs.Scenario, id.Value)
		default:
			return Refs{}, fmt.Errorf("unknown reference %q", id.Value)
		}
	}

	return Refs{}.merge(refs), nil
}

// normalizer rewrites question references into the runtime env layout.
type normalizer struct {
	scope Scope
}

func (n *normalizer) Visit(node *ast.Node) {
	switch v := (*node).(type) {
	case *ast.MemberNode:
		base, ok := v.Node.(*ast.IdentifierNode)
		if !ok || !n.scope.Questions[base.Value] {
			return
		}
		prop, ok := v.Property.(*ast.StringNode)
		if !ok {
			return
		}
		switch prop.Value {
		case "answer":
			ast.Patch(node, &ast.IdentifierNode{Value: base.Value})
		case "comment":
			ast.Patch(node, &ast.MemberNode{
				Node:     &ast.IdentifierNode{Value: RootComments},
				Property: &ast.StringNode{Value: base.Value},
			})
		}
	case *ast.IdentifierNode:
		if !n.scope.BareScenario || n.scope.Questions[v.Value] || IsReserved(v.Value) {
			return
		}
		ast.Patch(node, &ast.MemberNode{
			Node:     &ast.IdentifierNode{Value: RootScenario},
			Property: &ast.StringNode{Value: v.Value},
		})
	}
}

func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
