package endpoints

import (
	"github.com/jackzampolin/takeoff/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Document endpoints
		&CreateDocumentEndpoint{},
		&GetDocumentEndpoint{},
		&ListIssuesEndpoint{},

		// Job endpoints
		&CreateJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&ContinueJobEndpoint{},
		&ListBatchesEndpoint{},
		&MergeJobEndpoint{},
		&JobResultEndpoint{},
		&ExportJobEndpoint{},

		// Single-shot analysis
		&AnalyzeEndpoint{},

		// Introspection
		&ListLLMCallsEndpoint{},
		&LLMCallSummaryEndpoint{},
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
		&ListProvidersEndpoint{},
	}
}
