// Package flags is the feature-flag evaluation contract consumed by the
// registry, with a built-in static evaluator.
package flags

import (
	"context"
	"hash/fnv"
)

// ProviderFlag selects a tenant's commerce backend.
const ProviderFlag = "commerce-provider"

// Evaluator returns the variant of flagKey for a tenant, or "" when the
// flag has no opinion.
type Evaluator interface {
	Evaluate(ctx context.Context, flagKey, tenantID string) (string, error)
}

// Rule assigns a variant to listed tenants and to a stable percentage of
// the rest.
type Rule struct {
	Tenants []string
	Variant string
	Percent int
}

// Static evaluates rules held in memory. For each flag the first rule
// that matches wins.
type Static struct {
	rules map[string][]Rule
}

func NewStatic(rules map[string][]Rule) *Static {
	return &Static{rules: rules}
}

func (s *Static) Evaluate(_ context.Context, flagKey, tenantID string) (string, error) {
	for _, r := range s.rules[flagKey] {
		for _, t := range r.Tenants {
			if t == tenantID {
				return r.Variant, nil
			}
		}
		if r.Percent > 0 && Bucket(flagKey, tenantID) < r.Percent {
			return r.Variant, nil
		}
	}
	return "", nil
}

// Bucket maps a tenant to 0..99, stable per flag.
func Bucket(flagKey, tenantID string) int {
	h := fnv.New32a()
	h.Write([]byte(flagKey))
	h.Write([]byte{':'})
	h.Write([]byte(tenantID))
	return int(h.Sum32() % 100)
}

// Func adapts a function to Evaluator.
type Func func(ctx context.Context, flagKey, tenantID string) (string, error)

func (f Func) Evaluate(ctx context.Context, flagKey, tenantID string) (string, error) {
	return f(ctx, flagKey, tenantID)
}

