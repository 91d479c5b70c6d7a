package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	r := New()
	r.Register(Entry{
		Category:             "comm",
		Key:                  "tone",
		AllowedSet:           []interface{}{"neutral", "encouraging", "direct"},
		Default:              "encouraging",
		RiskLevel:            RiskLow,
		Adaptive:             true,
		MinConfidenceToAdapt: 0.7,
	})
	r.Register(Entry{
		Category:  "schedule",
		Key:       "buffer_minutes",
		Range:     &NumericRange{Min: 0, Max: 120},
		Default:   15.0,
		RiskLevel: RiskMedium,
		Adaptive:  true,
	})
	r.Register(Entry{
		Category:  "comm",
		Key:       "channel",
		Default:   "email",
		RiskLevel: RiskHigh,
		Adaptive:  false,
	})
	return r
}

func TestValidate_UnknownPreference(t *testing.T) {
	r := testRegistry()
	result := r.Validate("comm", "nonexistent", "x")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonUnknownPreference, result.Reason)
}

func TestValidate_EnumeratedDomain(t *testing.T) {
	r := testRegistry()

	assert.True(t, r.Validate("comm", "tone", "neutral").Valid)

	bad := r.Validate("comm", "tone", "sarcastic")
	assert.False(t, bad.Valid)
	assert.Equal(t, ReasonValueOutOfDomain, bad.Reason)
}

func TestValidate_NumericRange(t *testing.T) {
	r := testRegistry()

	assert.True(t, r.Validate("schedule", "buffer_minutes", 30.0).Valid)
	assert.False(t, r.Validate("schedule", "buffer_minutes", 200.0).Valid)
	assert.False(t, r.Validate("schedule", "buffer_minutes", -1.0).Valid)
}

func TestValidate_UnboundedKeyAcceptsAnyValue(t *testing.T) {
	r := testRegistry()
	assert.True(t, r.Validate("comm", "channel", "sms").Valid)
}

func TestIsAdaptive(t *testing.T) {
	r := testRegistry()
	assert.True(t, r.IsAdaptive("comm", "tone"))
	assert.False(t, r.IsAdaptive("comm", "channel"))
	assert.False(t, r.IsAdaptive("comm", "unknown"))
}

func TestGetDefaultValue_AgentOverride(t *testing.T) {
	r := New()
	r.Register(Entry{
		Category:      "comm",
		Key:           "tone",
		Default:       "encouraging",
		AgentDefaults: map[string]interface{}{"Coach": "direct"},
	})

	v, ok := r.GetDefaultValue("comm", "tone", "Coach")
	require.True(t, ok)
	assert.Equal(t, "direct", v)

	v, ok = r.GetDefaultValue("comm", "tone", "Planner")
	require.True(t, ok)
	assert.Equal(t, "encouraging", v)
}

func TestLoadFromYAML(t *testing.T) {
	doc := []byte(`
preferences:
  - category: comm
    key: tone
    allowed_set: ["neutral", "encouraging"]
    default: encouraging
    risk_level: low
    adaptive: true
    min_confidence_to_adapt: 0.7
  - category: schedule
    key: buffer_minutes
    range:
      min: 0
      max: 120
    default: 15
    risk_level: medium
    adaptive: true
`)
	entries, err := LoadFromYAML(doc)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	r := New()
	r.LoadEntries(entries)
	assert.True(t, r.Validate("comm", "tone", "neutral").Valid)
	assert.True(t, r.Validate("schedule", "buffer_minutes", 10.0).Valid)
}

func TestLoadFromYAML_MissingKeyErrors(t *testing.T) {
	_, err := LoadFromYAML([]byte(`
preferences:
  - category: comm
    default: x
`))
	assert.Error(t, err)
}
