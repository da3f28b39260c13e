// Package prompts keeps the embedded prompt templates used for analysis and
// exposes them for inspection.
//
// Templates are Go text/template files embedded by the packages that own
// them and registered here under a hierarchical key (analysis.user.takeoff).
// Each recorded LLM call carries the key of the prompt it used, and the hash
// lets a reader tell which revision of a template produced a result.
package prompts

// Prompt is a registered prompt template.
type Prompt struct {
	Key         string   `json:"key"`
	Text        string   `json:"text"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`
}
