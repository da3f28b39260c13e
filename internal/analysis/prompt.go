package analysis

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/jackzampolin/takeoff/internal/prompts"
	"github.com/jackzampolin/takeoff/internal/types"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

//go:embed reinforce.tmpl
var reinforcePromptTmpl string

var (
	userTemplate      = template.Must(template.New("user").Parse(userPromptTmpl))
	reinforceTemplate = template.Must(template.New("reinforce").Parse(reinforcePromptTmpl))
)

// Prompt keys
const (
	SystemPromptKey    = "analysis.system"
	UserPromptKey      = "analysis.user"
	ReinforcePromptKey = "analysis.reinforce"
)

// SystemPrompt returns the system prompt describing the takeoff JSON contract.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the first-attempt user prompt for a job mode and the
// page numbers being analyzed.
func UserPrompt(mode types.JobMode, pages []int, imageCount int) string {
	data := struct {
		Mode       string
		PageList   string
		ImageCount int
	}{string(mode), pageList(pages), imageCount}
	out, err := prompts.Render(userTemplate, data)
	if err != nil {
		return userPromptTmpl
	}
	return strings.TrimSpace(out)
}

// ReinforcementClause builds the clause appended to the prompt after a
// below-threshold attempt.
func ReinforcementClause(found, threshold, imageCount int) string {
	data := struct{ Found, Threshold, ImageCount int }{found, threshold, imageCount}
	out, err := prompts.Render(reinforceTemplate, data)
	if err != nil {
		return reinforcePromptTmpl
	}
	return strings.TrimSpace(out)
}

// RegisterPrompts registers the analysis prompts.
func RegisterPrompts(r *prompts.Registry) {
	r.Register(prompts.Prompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Takeoff system prompt - JSON contract for items and quality analysis",
	})
	r.Register(prompts.Prompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Per-mode user prompt naming the analyzed pages",
	})
	r.Register(prompts.Prompt{
		Key:         ReinforcePromptKey,
		Text:        reinforcePromptTmpl,
		Description: "Clause appended after a below-threshold attempt",
	})
}

// pageList renders page numbers compactly: "1-3, 7, 9-10".
func pageList(pages []int) string {
	if len(pages) == 0 {
		return "(all)"
	}
	var parts []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprintf("%d", pages[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", pages[i], pages[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}
