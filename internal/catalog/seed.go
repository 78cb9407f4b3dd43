package catalog

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"sort"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/mathlab-pvp/internal/domain"
)

//go:embed problems.yaml
var seedFiles embed.FS

type problemFile struct {
	Problems []problemYAML `yaml:"problems"`
}

type problemYAML struct {
	ID         string `yaml:"id"`
	Topic      string `yaml:"topic"`
	Difficulty int    `yaml:"difficulty"`
	Prompt     string `yaml:"prompt"`
	Answer     string `yaml:"answer"`
}

// SeedSource is an in-memory catalog, by default the embedded seed problems.
type SeedSource struct {
	byID map[string]domain.Problem
	ids  []string // sorted so sampling is reproducible for a given rng
}

// NewSeedSource loads the embedded problem set.
func NewSeedSource() (*SeedSource, error) {
	raw, err := fs.ReadFile(seedFiles, "problems.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded problems: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed builds a source from a problems YAML document.
func ParseSeed(raw []byte) (*SeedSource, error) {
	var f problemFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse problems: %w", err)
	}
	problems := make([]domain.Problem, 0, len(f.Problems))
	for _, p := range f.Problems {
		problems = append(problems, domain.Problem{
			ID:         p.ID,
			Topic:      p.Topic,
			Difficulty: p.Difficulty,
			Prompt:     p.Prompt,
			Answer:     p.Answer,
		})
	}
	return NewMemorySource(problems)
}

func NewMemorySource(problems []domain.Problem) (*SeedSource, error) {
	s := &SeedSource{byID: make(map[string]domain.Problem, len(problems))}
	for _, p := range problems {
		if err := validate(p); err != nil {
			return nil, err
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate problem id %q", p.ID)
		}
		s.byID[p.ID] = p
		s.ids = append(s.ids, p.ID)
	}
	sort.Strings(s.ids)
	return s, nil
}

func (s *SeedSource) Len() int { return len(s.ids) }

// All returns every problem ordered by id.
func (s *SeedSource) All() []domain.Problem {
	out := make([]domain.Problem, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *SeedSource) Sample(ctx context.Context, n int, rng *rand.Rand) ([]domain.Problem, error) {
	ids, err := sampleIDs(s.ids, n, rng)
	if err != nil {
		return nil, err
	}
	return s.Problems(ctx, ids)
}

func (s *SeedSource) Problems(_ context.Context, ids []string) ([]domain.Problem, error) {
	out := make([]domain.Problem, 0, len(ids))
	for _, id := range ids {
		p, ok := s.byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrUnknownProblem)
		}
		out = append(out, p)
	}
	return out, nil
}
