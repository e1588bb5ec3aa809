package survey

import (
	"sort"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// resolver maps question, group and pseudo names to positions.
// Question names take precedence over groups, groups over pseudo names.
type resolver struct {
	index  map[string]int
	groups map[string]Group
	pseudo map[string]int
}

func newResolver(s *Survey) (*resolver, error) {
	r := &resolver{
		index:  make(map[string]int, len(s.questions)),
		groups: make(map[string]Group, len(s.groups)),
		pseudo: map[string]int{
			PseudoStart: 0,
			PseudoEnd:   len(s.questions) - 1,
		},
	}
	for i, q := range s.questions {
		r.index[q.Name] = i
	}

	sorted := append([]Group(nil), s.groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, g := range sorted {
		if !questionName.MatchString(g.Name) {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "invalid group name %q", g.Name)
		}
		if _, clash := r.index[g.Name]; clash {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "group %q collides with a question name", g.Name)
		}
		if _, dup := r.groups[g.Name]; dup {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "duplicate group %q", g.Name)
		}
		if g.Start < 0 || g.End >= len(s.questions) || g.Start > g.End {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "group %q range [%d, %d] is out of bounds", g.Name, g.Start, g.End).
				WithContext("questions", len(s.questions))
		}
		if i > 0 && sorted[i-1].End >= g.Start {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "groups %q and %q overlap", sorted[i-1].Name, g.Name)
		}
		r.groups[g.Name] = g
	}

	for name, pos := range s.pseudo {
		if pos < 0 || pos >= len(s.questions) {
			return nil, errors.Newf(errors.ErrCodeSurveyInvalid, "pseudo name %q points at position %d outside the survey", name, pos)
		}
		r.pseudo[name] = pos
	}
	return r, nil
}

// one resolves name to exactly one position.
func (r *resolver) one(name string) (int, bool) {
	if i, ok := r.index[name]; ok {
		return i, true
	}
	if g, ok := r.groups[name]; ok && g.Start == g.End {
		return g.Start, true
	}
	if i, ok := r.pseudo[name]; ok {
		return i, true
	}
	return 0, false
}

// many resolves name to every position it covers. Groups expand to their range.
func (r *resolver) many(name string) ([]int, bool) {
	if i, ok := r.index[name]; ok {
		return []int{i}, true
	}
	if g, ok := r.groups[name]; ok {
		out := make([]int, 0, g.End-g.Start+1)
		for i := g.Start; i <= g.End; i++ {
			out = append(out, i)
		}
		return out, true
	}
	if i, ok := r.pseudo[name]; ok {
		return []int{i}, true
	}
	return nil, false
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
