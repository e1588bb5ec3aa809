package survey

import (
	"fmt"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/expr"
)

// Snapshot is the partial outcome of one interview as seen by rules and memory.
type Snapshot struct {
	// Env carries agent, scenario and model data. Env.Answers holds answered
	// questions only.
	Env expr.Env
	// Resolved marks questions that reached a final state. When nil, a
	// question counts as resolved once it is answered.
	Resolved map[string]bool
	// Prompts holds rendered question text, used for memory turns.
	Prompts map[string]string
}

func (s Snapshot) answered(name string) bool {
	_, ok := s.Env.Answers[name]
	return ok
}

func (s Snapshot) resolved(name string) bool {
	if s.Resolved == nil {
		return s.answered(name)
	}
	return s.Resolved[name]
}

type compiledRule struct {
	Rule
	trigger int // -1 for skip rules evaluated before the target
	target  int // -1 for stop rules
	program *expr.Program
	reads   []string
}

// RuleCollection holds compiled rules in declaration order. It is read-only
// after Build and safe for concurrent use.
type RuleCollection struct {
	questions []string
	rules     []compiledRule
}

func compileRules(s *Survey, res *resolver, scope expr.Scope) (*RuleCollection, error) {
	rc := &RuleCollection{questions: make([]string, len(s.questions))}
	for i, q := range s.questions {
		rc.questions[i] = q.Name
	}

	for _, r := range s.rules {
		ctx := func(e *errors.Error) *errors.Error {
			return e.WithContext("rule", r.Priority).WithContext("kind", string(r.Kind))
		}

		prog, err := expr.Compile(r.Expression, scope)
		if err != nil {
			return nil, err
		}
		reads := prog.Refs().Questions()

		trigger := -1
		if r.Trigger != "" {
			pos, ok := res.one(r.Trigger)
			if !ok {
				return nil, ctx(errors.Newf(errors.ErrCodeRuleInvalid, "unknown trigger %q", r.Trigger))
			}
			trigger = pos
		}

		switch r.Kind {
		case RuleStop:
			if trigger < 0 {
				return nil, ctx(errors.New(errors.ErrCodeRuleInvalid, "stop rule needs a trigger"))
			}
			if r.Target != "" {
				return nil, ctx(errors.New(errors.ErrCodeRuleInvalid, "stop rule cannot have a target"))
			}
			named := r
			named.Trigger = rc.questions[trigger]
			rc.rules = append(rc.rules, compiledRule{Rule: named, trigger: trigger, target: -1, program: prog, reads: reads})

		case RuleSkip:
			targets, ok := res.many(r.Target)
			if !ok {
				return nil, ctx(errors.Newf(errors.ErrCodeRuleInvalid, "unknown skip target %q", r.Target))
			}
			for _, target := range targets {
				if trigger >= 0 && target <= trigger {
					return nil, ctx(errors.Newf(errors.ErrCodeRuleInvalid,
						"skip target %q must come after trigger %q", rc.questions[target], rc.questions[trigger]))
				}
				named := r
				named.Target = rc.questions[target]
				if trigger >= 0 {
					named.Trigger = rc.questions[trigger]
				}
				rc.rules = append(rc.rules, compiledRule{Rule: named, trigger: trigger, target: target, program: prog, reads: reads})
			}

		default:
			return nil, ctx(errors.Newf(errors.ErrCodeRuleInvalid, "unknown rule kind %q", r.Kind))
		}
	}
	return rc, nil
}

// Rules returns the compiled rules in declaration order. Group targets are
// expanded to one rule per question.
func (rc *RuleCollection) Rules() []Rule {
	out := make([]Rule, len(rc.rules))
	for i, r := range rc.rules {
		out[i] = r.Rule
	}
	return out
}

// Len returns the number of compiled rules.
func (rc *RuleCollection) Len() int { return len(rc.rules) }

// SkipRulesFor returns the skip rules that can remove target.
func (rc *RuleCollection) SkipRulesFor(target string) []Rule {
	var out []Rule
	for _, r := range rc.rules {
		if r.Kind == RuleSkip && r.Target == target {
			out = append(out, r.Rule)
		}
	}
	return out
}

// StopRulesFor returns the stop rules bound to trigger.
func (rc *RuleCollection) StopRulesFor(trigger string) []Rule {
	var out []Rule
	for _, r := range rc.rules {
		if r.Kind == RuleStop && r.Trigger == trigger {
			out = append(out, r.Rule)
		}
	}
	return out
}

// ApplicableSkipTargets returns every question a fired skip rule removes,
// applied until no new target is added. A rule is considered only when its
// trigger is answered, every question it reads is resolved and its target is
// not yet answered. Rules that cannot be evaluated to a boolean do not fire
// and are reported as warnings.
func (rc *RuleCollection) ApplicableSkipTargets(snap Snapshot) (map[string]bool, []error) {
	targets := make(map[string]bool)
	var warnings []error
	warned := make(map[int]bool)

	for {
		added := false
		for i, r := range rc.rules {
			if r.Kind != RuleSkip || targets[r.Target] || snap.answered(r.Target) {
				continue
			}
			if r.trigger >= 0 && !snap.answered(r.Trigger) {
				continue
			}
			if !readsResolved(r.reads, snap, targets) {
				continue
			}
			fired, err := r.program.EvalBool(snap.Env)
			if err != nil {
				if !warned[i] {
					warned[i] = true
					warnings = append(warnings, ruleWarning(r, err))
				}
				continue
			}
			if fired {
				targets[r.Target] = true
				added = true
			}
		}
		if !added {
			return targets, warnings
		}
	}
}

// ShouldStop reports whether any stop rule bound to question fires.
func (rc *RuleCollection) ShouldStop(question string, snap Snapshot) (bool, []error) {
	var warnings []error
	for _, r := range rc.rules {
		if r.Kind != RuleStop || r.Trigger != question {
			continue
		}
		fired, err := r.program.EvalBool(snap.Env)
		if err != nil {
			warnings = append(warnings, ruleWarning(r, err))
			continue
		}
		if fired {
			return true, warnings
		}
	}
	return false, warnings
}

func readsResolved(reads []string, snap Snapshot, skipped map[string]bool) bool {
	for _, name := range reads {
		if !snap.resolved(name) && !skipped[name] {
			return false
		}
	}
	return true
}

func ruleWarning(r compiledRule, err error) error {
	target := r.Target
	if target == "" {
		target = "-"
	}
	return errors.Wrap(err, errors.ErrCodeRuleInvalid,
		fmt.Sprintf("%s rule %d (trigger %q, target %q) not applied", r.Kind, r.Priority, r.Trigger, target))
}
