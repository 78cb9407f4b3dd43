// Package catalog serves the problems duels are played on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/park285/mathlab-pvp/internal/domain"
)

var (
	ErrUnknownProblem = errors.New("unknown problem id")
	ErrNotEnough      = errors.New("not enough problems in catalog")
)

// Source is a read-only problem catalog.
type Source interface {
	// Sample returns n distinct problems chosen with rng.
	Sample(ctx context.Context, n int, rng *rand.Rand) ([]domain.Problem, error)
	// Problems returns the problems for ids in the same order.
	Problems(ctx context.Context, ids []string) ([]domain.Problem, error)
}

// sampleIDs picks n distinct ids from all without modifying it.
func sampleIDs(all []string, n int, rng *rand.Rand) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample size %d: %w", n, domain.ErrInvalidArgs)
	}
	if n > len(all) {
		return nil, fmt.Errorf("want %d, have %d: %w", n, len(all), ErrNotEnough)
	}
	idx := rng.Perm(len(all))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = all[j]
	}
	return out, nil
}

func validate(p domain.Problem) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("problem without id")
	case strings.TrimSpace(p.Prompt) == "":
		return fmt.Errorf("problem %s: empty prompt", p.ID)
	case strings.TrimSpace(p.Answer) == "":
		return fmt.Errorf("problem %s: empty answer", p.ID)
	}
	return nil
}
