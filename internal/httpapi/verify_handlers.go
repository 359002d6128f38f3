package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"certiscan.io/internal/stream"
)

type verifyResponse struct {
	Authentic bool   `json:"authentic"`
	QRCode    string `json:"qr_code"`
	Product   struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		Status      string `json:"status"`
	} `json:"product"`
	Factory struct {
		Name    string `json:"name"`
		Address string `json:"address,omitempty"`
	} `json:"factory"`
	ScanCount int64 `json:"scan_count"`
}

// handleVerify is the public verification lookup behind every printed QR code.
// No session, no tenant context: the code alone addresses the product.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/product/"), "/")
	if code == "" || strings.Contains(code, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	p, f, err := a.svc.VerifyByCode(r.Context(), code)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if a.stream != nil {
		a.stream.Publish(stream.ScanEvent{
			QRCode:      p.QRCode,
			ProductName: p.Name,
			FactoryID:   p.FactoryID,
			FactoryName: f.Name,
			Result:      "ok",
			Timestamp:   time.Now().UTC(),
		})
	}

	resp := verifyResponse{Authentic: true, QRCode: p.QRCode, ScanCount: p.ScanCount}
	resp.Product.Name = p.Name
	resp.Product.Type = p.Type
	resp.Product.Description = p.Description
	resp.Product.Status = string(p.Status)
	resp.Factory.Name = f.Name
	resp.Factory.Address = f.Address
	writeJSON(w, http.StatusOK, resp)
}

// StreamScans handles Server-Sent Events for live scan activity.
func (a *API) StreamScans(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
