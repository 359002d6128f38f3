package httpapi

import (
	"net/http"
	"strings"

	"certiscan.io/internal/product"
)

func (a *API) handleFactoriesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createFactory(w, r)
	case http.MethodGet:
		a.listFactories(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleFactoryResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/factories/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getFactory(w, r, id)
	case http.MethodPut:
		a.updateFactory(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) createFactory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var in product.FactoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f, err := a.svc.CreateFactory(r.Context(), principal, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/factories/"+f.ID)
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) getFactory(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	f, err := a.svc.GetFactory(r.Context(), principal, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) listFactories(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	items, err := a.svc.ListFactories(r.Context(), principal)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) updateFactory(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var in product.FactoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f, err := a.svc.UpdateFactory(r.Context(), principal, id, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
