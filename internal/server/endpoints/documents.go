package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/types"
)

// CreateDocumentRequest registers a plan set.
type CreateDocumentRequest struct {
	DocumentID        string `json:"documentId,omitempty"`
	Title             string `json:"title,omitempty"`
	DocumentReference string `json:"documentReference"`
}

// CreateDocumentEndpoint handles POST /api/documents.
type CreateDocumentEndpoint struct{}

func (e *CreateDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/documents", e.handler
}

func (e *CreateDocumentEndpoint) Public() bool { return false }

func (e *CreateDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	st, ok := storeFrom(w, r)
	if !ok {
		return
	}
	var req CreateDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DocumentReference == "" {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error: "documentReference: is required", Field: "documentReference",
		})
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}

	if _, err := st.GetDocument(r.Context(), req.DocumentID); err == nil {
		writeServiceError(w, r, fmt.Errorf("document %s already exists: %w", req.DocumentID, store.ErrConflict))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeServiceError(w, r, err)
		return
	}

	doc := &types.Document{
		ID:        req.DocumentID,
		OwnerID:   caller.ID,
		Title:     req.Title,
		Reference: req.DocumentReference,
	}
	if loader := svcctx.PagesFrom(r.Context()); loader != nil {
		n, err := loader.PageCount(r.Context(), req.DocumentReference)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error: "documentReference: " + err.Error(), Field: "documentReference",
			})
			return
		}
		doc.PageCount = n
	}

	if err := st.CreateDocument(r.Context(), doc); err != nil {
		writeServiceError(w, r, err)
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("document registered",
		"document_id", doc.ID, "owner", doc.OwnerID, "pages", doc.PageCount)
	writeJSON(w, http.StatusCreated, doc)
}

func (e *CreateDocumentEndpoint) Command(client func() *api.Client) *cobra.Command {
	var req CreateDocumentRequest
	cmd := &cobra.Command{
		Use:   "create <reference>",
		Short: "Register a plan set (PDF or page image directory)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DocumentReference = args[0]
			var doc types.Document
			if err := client().Post(cmd.Context(), "/api/documents", req, &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
	cmd.Flags().StringVar(&req.DocumentID, "id", "", "Document ID (default: generated)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Document title")
	return cmd
}

// GetDocumentEndpoint handles GET /api/documents/{document_id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/documents/{document_id}", e.handler
}

func (e *GetDocumentEndpoint) Public() bool { return false }

func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	doc, ok := ownedDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <document_id>",
		Short: "Get a document and its analysis status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc types.Document
			if err := client().Get(cmd.Context(), "/api/documents/"+args[0], &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}

// ListIssuesEndpoint handles GET /api/documents/{document_id}/issues.
type ListIssuesEndpoint struct{}

func (e *ListIssuesEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/documents/{document_id}/issues", e.handler
}

func (e *ListIssuesEndpoint) Public() bool { return false }

func (e *ListIssuesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	doc, ok := ownedDocument(w, r)
	if !ok {
		return
	}
	issues, err := svcctx.StoreFrom(r.Context()).ListIssues(r.Context(), doc.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if issues == nil {
		issues = []types.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (e *ListIssuesEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "issues <document_id>",
		Short: "List quality issues recorded for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var issues []types.Issue
			if err := client().Get(cmd.Context(), "/api/documents/"+args[0]+"/issues", &issues); err != nil {
				return err
			}
			return api.Output(issues)
		},
	}
}

// ownedDocument loads the {document_id} document and checks the caller owns it.
func ownedDocument(w http.ResponseWriter, r *http.Request) (*types.Document, bool) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return nil, false
	}
	st, ok := storeFrom(w, r)
	if !ok {
		return nil, false
	}
	doc, err := st.GetDocument(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if err := caller.RequireOwner(doc.OwnerID); err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return doc, true
}
