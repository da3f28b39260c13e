package analysis

import "math"

// AttemptContext is the state of one retry iteration. It is a value: Next,
// Retry and Observe return new contexts and never modify the receiver.
type AttemptContext struct {
	Number    int
	Prompt    string
	MaxTokens int
	Provider  string
	ItemCount int
}

// Observe returns a copy recording the provider and item count obtained.
func (a AttemptContext) Observe(provider string, items int) AttemptContext {
	a.Provider = provider
	a.ItemCount = items
	return a
}

// Next returns the context for the attempt after a below-threshold result:
// the clause is appended to the prompt and the token budget grows by growth,
// capped at maxTokens.
func (a AttemptContext) Next(clause string, growth float64, maxTokens int) AttemptContext {
	next := a.Retry()
	if clause != "" {
		next.Prompt = a.Prompt + "\n\n" + clause
	}
	next.MaxTokens = min(maxTokens, int(math.Ceil(float64(a.MaxTokens)*growth)))
	if next.MaxTokens < a.MaxTokens {
		next.MaxTokens = a.MaxTokens
	}
	return next
}

// Retry returns the context for repeating the same request after an
// invocation failure.
func (a AttemptContext) Retry() AttemptContext {
	return AttemptContext{
		Number:    a.Number + 1,
		Prompt:    a.Prompt,
		MaxTokens: a.MaxTokens,
	}
}

// Threshold is the minimum acceptable item count for imageCount images.
func Threshold(minItems, perImage, imageCount int) int {
	return max(minItems, perImage*imageCount)
}

// better reports whether candidate should replace best. Only a strictly
// greater item count wins, so the earliest of equal attempts is kept.
func better(candidate, best *Outcome) bool {
	if candidate == nil {
		return false
	}
	return best == nil || candidate.ItemCount() > best.ItemCount()
}
