package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileEntry is the YAML shape of one registry declaration, matching the
// teacher's convention of plain yaml-tagged config structs (config.go).
type fileEntry struct {
	Category             string        `yaml:"category"`
	Key                  string        `yaml:"key"`
	AllowedSet           []interface{} `yaml:"allowed_set,omitempty"`
	Range                *struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"range,omitempty"`
	Default              interface{}            `yaml:"default"`
	RiskLevel            string                 `yaml:"risk_level"`
	Adaptive             bool                   `yaml:"adaptive"`
	MinConfidenceToAdapt float64                `yaml:"min_confidence_to_adapt"`
	AgentDefaults        map[string]interface{} `yaml:"agent_defaults,omitempty"`
}

type fileDoc struct {
	Preferences []fileEntry `yaml:"preferences"`
}

// LoadFromYAML parses a registry document and returns the declared Entries.
func LoadFromYAML(data []byte) ([]Entry, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry yaml: %w", err)
	}

	entries := make([]Entry, 0, len(doc.Preferences))
	for _, fe := range doc.Preferences {
		if fe.Category == "" || fe.Key == "" {
			return nil, fmt.Errorf("registry entry missing category/key")
		}
		e := Entry{
			Category:             fe.Category,
			Key:                  fe.Key,
			AllowedSet:           fe.AllowedSet,
			Default:              fe.Default,
			RiskLevel:            RiskLevel(fe.RiskLevel),
			Adaptive:             fe.Adaptive,
			MinConfidenceToAdapt: fe.MinConfidenceToAdapt,
			AgentDefaults:        fe.AgentDefaults,
		}
		if fe.Range != nil {
			e.Range = &NumericRange{Min: fe.Range.Min, Max: fe.Range.Max}
		}
		if e.RiskLevel == "" {
			e.RiskLevel = RiskLow
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LoadFromFile reads and parses a registry YAML document from path.
func LoadFromFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file %s: %w", path, err)
	}
	return LoadFromYAML(data)
}

// ReloadFromFile re-reads path and atomically replaces r's entries via
// LoadEntries.
func (r *Registry) ReloadFromFile(path string) error {
	entries, err := LoadFromFile(path)
	if err != nil {
		return err
	}
	r.LoadEntries(entries)
	return nil
}
