// Package registry implements the Preference Registry (spec §4.A): the
// build-time configured mapping from (category, key) to the declarations
// that bound every preference write in the system. It is the one
// dependency-free leaf every other component validates against before
// persisting a preference or suggested preference (spec §3, §8: "For all
// preference writes P and registry R: R.validate(...).valid").
package registry

import (
	"fmt"
	"sync"
)

// RiskLevel is the declared blast radius of changing a preference.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Reason codes returned by Validate. These map onto the VALIDATION_ERROR
// kinds in spec §7.
const (
	ReasonUnknownPreference = "UnknownPreference"
	ReasonValueOutOfDomain  = "ValueOutOfDomain"
)

// NumericRange bounds a numeric preference's allowed domain, inclusive.
type NumericRange struct {
	Min float64
	Max float64
}

// Entry is one (category, key) declaration.
type Entry struct {
	Category    string
	Key         string
	AllowedSet  []interface{} // enumerated domain; nil if Range is used instead
	Range       *NumericRange // numeric domain; nil if AllowedSet is used instead
	Default     interface{}
	RiskLevel   RiskLevel
	Adaptive    bool
	MinConfidenceToAdapt float64
	// AgentDefaults overrides Default for specific agent names.
	AgentDefaults map[string]interface{}
}

func entryKey(category, key string) string { return category + "." + key }

// ValidationResult is returned by Validate.
type ValidationResult struct {
	Valid  bool
	Reason string // ReasonUnknownPreference / ReasonValueOutOfDomain, empty if Valid
}

// Registry holds the immutable-for-the-run set of preference declarations.
// It is safe for concurrent reads; Register and LoadEntries, used at
// startup/config load and by ReloadFromFile hot-reload (see loader.go),
// take the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Registry. Use Register or LoadEntries to populate it.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a declaration.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entryKey(e.Category, e.Key)] = e
}

// LoadEntries replaces the entire entry set atomically, used by hot reload.
func (r *Registry) LoadEntries(entries []Entry) {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		next[entryKey(e.Category, e.Key)] = e
	}
	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
}

func (r *Registry) lookup(category, key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entryKey(category, key)]
	return e, ok
}

// IsAdaptive reports whether (category, key) is declared adaptive. Unknown
// preferences are never adaptive.
func (r *Registry) IsAdaptive(category, key string) bool {
	e, ok := r.lookup(category, key)
	return ok && e.Adaptive
}

// GetDefaultValue returns the declared default for (category, key),
// preferring an agent-specific default when agentName matches one.
func (r *Registry) GetDefaultValue(category, key, agentName string) (interface{}, bool) {
	e, ok := r.lookup(category, key)
	if !ok {
		return nil, false
	}
	if agentName != "" && e.AgentDefaults != nil {
		if v, ok := e.AgentDefaults[agentName]; ok {
			return v, true
		}
	}
	return e.Default, true
}

// GetRiskLevel returns the declared risk level for (category, key).
func (r *Registry) GetRiskLevel(category, key string) (RiskLevel, bool) {
	e, ok := r.lookup(category, key)
	if !ok {
		return "", false
	}
	return e.RiskLevel, true
}

// GetConfidenceThreshold returns the minimum confidence required to
// auto-adapt (category, key).
func (r *Registry) GetConfidenceThreshold(category, key string) (float64, bool) {
	e, ok := r.lookup(category, key)
	if !ok {
		return 0, false
	}
	return e.MinConfidenceToAdapt, true
}

// Validate checks value against the declared domain for (category, key).
// It is the single gate every preference and suggested-preference write
// must pass (spec §4.A, §8).
func (r *Registry) Validate(category, key string, value interface{}) ValidationResult {
	e, ok := r.lookup(category, key)
	if !ok {
		return ValidationResult{Valid: false, Reason: ReasonUnknownPreference}
	}

	if e.Range != nil {
		f, ok := toFloat(value)
		if !ok || f < e.Range.Min || f > e.Range.Max {
			return ValidationResult{Valid: false, Reason: ReasonValueOutOfDomain}
		}
		return ValidationResult{Valid: true}
	}

	if e.AllowedSet != nil {
		for _, allowed := range e.AllowedSet {
			if allowed == value {
				return ValidationResult{Valid: true}
			}
		}
		return ValidationResult{Valid: false, Reason: ReasonValueOutOfDomain}
	}

	// No domain declared: any value for a known key is accepted.
	return ValidationResult{Valid: true}
}

// Entries returns a snapshot of every declared entry, used by the admin
// "registry dump" CLI command and by projections.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Describe renders a human-readable one-liner for an entry, used by
// explanation and the registry-dump CLI.
func (e Entry) Describe() string {
	domain := "any"
	if e.Range != nil {
		domain = fmt.Sprintf("[%.2f, %.2f]", e.Range.Min, e.Range.Max)
	} else if e.AllowedSet != nil {
		domain = fmt.Sprintf("%v", e.AllowedSet)
	}
	return fmt.Sprintf("%s.%s (risk=%s adaptive=%v domain=%s default=%v)",
		e.Category, e.Key, e.RiskLevel, e.Adaptive, domain, e.Default)
}
