package invariant

import "log/slog"

// DefaultRules returns the invariants every prefctl deployment enforces
// regardless of policy configuration, independent of any registry schema
// or arbitration policy: a confidence score outside [0,1] or a negative
// cost estimate can never be a legitimate proposal, so no veto policy
// should be required to reject them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "confidence_out_of_range",
			Description: "proposal confidence score must be within [0, 1]",
			Condition:   "confidence_score < 0.0 || confidence_score > 1.0",
		},
		{
			Name:        "negative_cost_estimate",
			Description: "proposal cost estimate must not be negative",
			Condition:   "cost_estimate < 0.0",
		},
	}
}

// NewEngineWithDefaults builds an Engine with DefaultRules already
// registered.
func NewEngineWithDefaults(logger *slog.Logger) (*Engine, error) {
	e, err := NewEngine(logger)
	if err != nil {
		return nil, err
	}
	for _, r := range DefaultRules() {
		if err := e.Register(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}
