package expr

import (
	"fmt"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Template is text with {{ placeholder }} expressions.
type Template struct {
	source string
	parts  []templatePart
	refs   Refs
}

type templatePart struct {
	literal string
	program *Program
}

// ParseTemplate splits source into literal text and compiled placeholders.
// An unresolvable placeholder fails with TEMPLATE_UNRESOLVED.
func ParseTemplate(source string, scope Scope) (*Template, error) {
	t := &Template{source: source}
	matches := braceRef.FindAllStringSubmatchIndex(source, -1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			t.parts = append(t.parts, templatePart{literal: source[last:m[0]]})
		}
		inner := source[m[2]:m[3]]
		prog, err := Compile(inner, scope)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTemplateUnresolved, "unresolved placeholder").
				WithContext("placeholder", source[m[0]:m[1]])
		}
		t.parts = append(t.parts, templatePart{program: prog})
		t.refs = t.refs.merge(prog.Refs())
		last = m[1]
	}
	if last < len(source) {
		t.parts = append(t.parts, templatePart{literal: source[last:]})
	}
	return t, nil
}

// Source returns the template as written.
func (t *Template) Source() string { return t.source }

// Refs returns everything the template's placeholders read.
func (t *Template) Refs() Refs { return t.refs }

// Render evaluates every placeholder against env. nil values render empty.
func (t *Template) Render(env Env) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.program == nil {
			b.WriteString(p.literal)
			continue
		}
		val, err := p.program.Eval(env)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeTemplateRender, "render placeholder").
				WithContext("placeholder", p.program.Source())
		}
		if val != nil {
			b.WriteString(fmt.Sprint(val))
		}
	}
	return b.String(), nil
}
