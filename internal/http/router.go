package http

import "net/http"

// RouterConfig wires handlers and middleware into the router. Nil handlers
// leave their routes unregistered.
type RouterConfig struct {
	Activities *ActivityHandler
	Workflow   *WorkflowHandler
	Recurrence *RecurrenceHandler
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the API mux.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Activities != nil {
		mux.HandleFunc("GET /activities", cfg.Activities.List)
		mux.HandleFunc("POST /activities", cfg.Activities.Create)
		mux.HandleFunc("GET /activities/{id}", cfg.Activities.Get)
		mux.HandleFunc("PUT /activities/{id}", cfg.Activities.Update)
		mux.HandleFunc("DELETE /activities/{id}", cfg.Activities.Delete)
		mux.HandleFunc("POST /activities/{id}/status", cfg.Activities.ChangeStatus)
		mux.HandleFunc("PUT /activities/{id}/recurrence", cfg.Activities.SetRecurrence)
		mux.HandleFunc("GET /activities/{id}/occurrences", cfg.Activities.ListOccurrences)
	}

	if cfg.Workflow != nil {
		mux.HandleFunc("GET /activities/{id}/workflow", cfg.Workflow.Get)
		mux.HandleFunc("POST /activities/{id}/approvals/{approvalID}", cfg.Workflow.SaveApproval)
		mux.HandleFunc("POST /activities/{id}/approvals/{approvalID}/skip", cfg.Workflow.Skip)
		mux.HandleFunc("POST /activities/{id}/approvals/{approvalID}/nominate", cfg.Workflow.Nominate)
	}

	if cfg.Recurrence != nil {
		mux.HandleFunc("POST /recurrence/preview", cfg.Recurrence.Preview)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}
