package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"certiscan.io/internal/product"
)

type createBatchRequest struct {
	FactoryID string              `json:"factory_id,omitempty"`
	Type      string              `json:"type"`
	Items     []product.BatchItem `json:"items"`
}

func (a *API) handleBatchesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createBatch(w, r)
	case http.MethodGet:
		a.listBatches(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleBatchResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/process") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/process"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.processBatch(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getBatch(w, r, path)
}

func (a *API) createBatch(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	b, err := a.svc.CreateBatch(r.Context(), principal, req.FactoryID, product.BatchType(req.Type), req.Items)
	if err != nil {
		var verr *product.BatchValidationError
		if errors.As(err, &verr) {
			// All-or-nothing admission: report every failing row at once.
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "batch validation failed",
				"errors": verr.Errs,
			})
			return
		}
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/batches/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) getBatch(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	b, err := a.svc.GetBatch(r.Context(), principal, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) listBatches(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	items, err := a.svc.ListBatches(r.Context(), principal, strings.TrimSpace(r.URL.Query().Get("factory_id")))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) processBatch(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	// Visibility check first so cross-tenant callers see not-found.
	if _, err := a.svc.GetBatch(r.Context(), principal, id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	b, err := a.svc.ProcessBatch(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type mintCodesRequest struct {
	Count int `json:"count"`
}

// handleMintCodes draws codes synchronously for pre-printed labels.
func (a *API) handleMintCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req mintCodesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	codes, err := a.svc.MintCodes(r.Context(), principal, req.Count)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}
