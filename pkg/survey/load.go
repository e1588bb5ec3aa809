package survey

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// File is the YAML form of a survey.
type File struct {
	Questions []Question     `yaml:"questions"`
	Rules     []Rule         `yaml:"rules,omitempty"`
	Memory    *MemoryFile    `yaml:"memory,omitempty"`
	Groups    []Group        `yaml:"groups,omitempty"`
	Pseudo    map[string]int `yaml:"pseudo,omitempty"`
}

// MemoryFile is the YAML form of a memory policy.
type MemoryFile struct {
	Mode     MemoryMode      `yaml:"mode"`
	Targeted []TargetedEntry `yaml:"targeted,omitempty"`
}

// TargetedEntry lists the predecessors one question must see.
type TargetedEntry struct {
	Question     string   `yaml:"question"`
	Predecessors []string `yaml:"predecessors"`
}

// LoadFile reads a survey definition from a YAML file.
func LoadFile(path string) (*Survey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "read survey file").
			WithContext("path", path)
	}
	s, err := Parse(data)
	if err != nil {
		if e, ok := errors.As(err); ok {
			return nil, e.WithContext("path", path)
		}
		return nil, err
	}
	return s, nil
}

// Parse decodes a YAML survey definition.
func Parse(data []byte) (*Survey, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "parse survey")
	}
	return f.Survey()
}

// Survey converts the file form into a Survey.
func (f File) Survey() (*Survey, error) {
	s := New(f.Questions...)
	for _, r := range f.Rules {
		s = s.WithRule(r)
	}
	for _, g := range f.Groups {
		s = s.WithGroup(g.Name, g.Start, g.End)
	}
	for name, pos := range f.Pseudo {
		s = s.WithPseudo(name, pos)
	}
	if f.Memory != nil {
		switch f.Memory.Mode {
		case "", MemoryNone:
			if len(f.Memory.Targeted) > 0 {
				return nil, errors.New(errors.ErrCodeMemoryInvalid, "targeted entries require mode: targeted")
			}
		case MemoryFull:
			s = s.WithFullMemory()
		case MemoryTargeted:
			for _, entry := range f.Memory.Targeted {
				s = s.WithTargetedMemory(entry.Question, entry.Predecessors...)
			}
		default:
			return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "unknown memory mode %q", f.Memory.Mode)
		}
	}
	return s, nil
}

// File returns the YAML form of s.
func (s *Survey) File() File {
	f := File{
		Questions: s.Questions(),
		Rules:     s.Rules(),
		Groups:    s.Groups(),
	}
	if len(s.pseudo) > 0 {
		f.Pseudo = make(map[string]int, len(s.pseudo))
		for k, v := range s.pseudo {
			f.Pseudo[k] = v
		}
	}
	if s.memory.Mode != "" && s.memory.Mode != MemoryNone {
		mf := &MemoryFile{Mode: s.memory.Mode}
		byQuestion := make(map[string]int)
		for _, pair := range s.memory.Targeted {
			idx, ok := byQuestion[pair.Question]
			if !ok {
				idx = len(mf.Targeted)
				byQuestion[pair.Question] = idx
				mf.Targeted = append(mf.Targeted, TargetedEntry{Question: pair.Question})
			}
			mf.Targeted[idx].Predecessors = append(mf.Targeted[idx].Predecessors, pair.Predecessor)
		}
		f.Memory = mf
	}
	return f
}
