package exec

import (
	"context"
	"errors"
	"strings"

	"github.com/shono-io/shipwright/sdk"
)

var errNoCrossBuilder = errors.New("no cross builder configured")

type TargetSet struct {
	// Baseline targets are always attempted.
	Baseline []sdk.Target
	// Cross targets are attempted only when the cross builder is reachable.
	Cross []sdk.Target
}

// Discover returns baseline targets, cross targets when cross tooling answers, and any
// extra targets given as "triple" or "triple:strategy". Duplicate triples keep their
// first definition.
func (c *Coordinator) Discover(ctx context.Context, set TargetSet, extra []string) []sdk.Target {
	var result []sdk.Target
	seen := map[string]bool{}

	add := func(t sdk.Target) {
		if t.Strategy == "" {
			t.Strategy = sdk.NativeStrategy
		}
		if seen[t.Triple] {
			return
		}
		seen[t.Triple] = true
		result = append(result, t)
	}

	for _, t := range set.Baseline {
		add(t)
	}

	if len(set.Cross) > 0 {
		if err := c.crossAvailable(ctx); err != nil {
			names := make([]string, 0, len(set.Cross))
			for _, t := range set.Cross {
				names = append(names, t.Triple)
			}
			c.log.Warn().Err(err).Strs("targets", names).Msg("cross tooling unavailable, cross targets not included")
		} else {
			for _, t := range set.Cross {
				t.Strategy = sdk.CrossStrategy
				add(t)
			}
		}
	}

	for _, e := range extra {
		add(ParseTarget(e, set))
	}

	return result
}

func (c *Coordinator) crossAvailable(ctx context.Context) error {
	b, fnd := c.builders[sdk.CrossStrategy]
	if !fnd {
		return unavailable(sdk.Target{Triple: "cross"}, errNoCrossBuilder)
	}
	return b.Available(ctx)
}

// ParseTarget reads "triple[:strategy]". A triple already declared in the set reuses
// its overlay.
func ParseTarget(s string, set TargetSet) sdk.Target {
	triple, strategy, _ := strings.Cut(strings.TrimSpace(s), ":")
	t := sdk.Target{Triple: triple}

	for _, known := range append(append([]sdk.Target{}, set.Baseline...), set.Cross...) {
		if known.Triple == triple {
			t = known
			break
		}
	}

	switch sdk.BuildStrategy(strategy) {
	case sdk.CrossStrategy:
		t.Strategy = sdk.CrossStrategy
	case sdk.NativeStrategy:
		t.Strategy = sdk.NativeStrategy
	}
	return t
}
