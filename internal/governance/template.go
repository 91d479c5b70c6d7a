package governance

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template is a named prompt template rendered against a generation
// context. RequiredFields lists the context keys that must be present
// (and non-empty) before Render will produce a prompt; their absence is
// the "missing fields" branch of generateWithGovernance.
type Template struct {
	Name           string
	Body           string
	RequiredFields []string
}

// MissingFields returns the RequiredFields absent from ctx, or nil if
// every required field is present.
func (t Template) MissingFields(ctx map[string]interface{}) []string {
	var missing []string
	for _, f := range t.RequiredFields {
		v, ok := ctx[f]
		if !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Render executes the template body against ctx using text/template.
func (t Template) Render(ctx map[string]interface{}) (string, error) {
	tmpl, err := template.New(t.Name).Parse(t.Body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", t.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}
