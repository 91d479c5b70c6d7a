package agents

import (
	"fmt"
	"strings"
)

// renderTemplate substitutes "{{field}}" placeholders in body from ctx,
// the simplest rule-based stand-in for an LLM call: no conditionals, no
// loops, just literal substitution so the output is fully deterministic.
func renderTemplate(body string, ctx map[string]interface{}) string {
	out := body
	for k, v := range ctx {
		out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return out
}
