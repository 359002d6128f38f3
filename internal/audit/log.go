// Package audit records authorization-relevant state transitions as an
// append-only trail: a structured JSON line on the shared logger, plus an
// optional persisted sink. Audit writes are best-effort and never fail the
// operation that triggered them.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"certiscan.io/internal/auth"
	"certiscan.io/internal/ids"
	"certiscan.io/internal/obs"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurred_at"`
	EventType    string            `json:"event_type"`
	EventName    string            `json:"event_name"`
	ActorID      string            `json:"actor_id,omitempty"`
	FactoryID    string            `json:"factory_id,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Event type constants used across the service.
const (
	TypeAuth     = "auth"
	TypeResource = "resource"
	TypeSecurity = "security"
)

// Sink persists entries. The store implementation appends to an audit table
// that the application never updates or deletes.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

var (
	sinkMu sync.RWMutex
	sink   Sink
)

// SetSink installs the persisted sink. Called once at process start; a nil
// sink leaves the JSON log line as the only output.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

func currentSink() Sink {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Emit records an audit event enriched with request and principal context.
// Sink failures are logged separately and swallowed.
func Emit(ctx context.Context, eventType, eventName string, e Entry) {
	e.EventType = eventType
	e.EventName = eventName
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = requestIDFromContext(ctx)
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		if e.ActorID == "" {
			e.ActorID = principal.UserID
		}
		if e.FactoryID == "" {
			e.FactoryID = principal.FactoryID
		}
	}

	line := map[string]any{
		"ts":         e.OccurredAt.Format(time.RFC3339Nano),
		"type":       "audit",
		"event_type": e.EventType,
		"event":      e.EventName,
	}
	if e.RequestID != "" {
		line["request_id"] = e.RequestID
	}
	if e.ActorID != "" {
		line["actor_id"] = e.ActorID
	}
	if e.FactoryID != "" {
		line["factory_id"] = e.FactoryID
	}
	if e.ResourceType != "" {
		line["resource_type"] = e.ResourceType
		line["resource_id"] = e.ResourceID
	}
	if len(e.Metadata) > 0 {
		line["metadata"] = e.Metadata
	}
	if data, err := json.Marshal(line); err == nil {
		obs.Logger().Println(string(data))
	}

	if s := currentSink(); s != nil {
		if err := s.Append(ctx, &e); err != nil {
			obs.LogError("audit_sink_append_failed", map[string]any{
				"event": e.EventName,
				"error": err.Error(),
			})
		}
	}
}
