package product

import (
	"errors"
	"time"
)

// Status is the product lifecycle state. Archival is a status, never a delete;
// rows are kept forever so QR codes are never reused.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether the status is a known lifecycle value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// transitions enumerates the allowed lifecycle moves. Archiving is permitted
// from every non-archived state; everything else follows the chain.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusArchived},
	StatusPending:   {StatusApproved, StatusArchived},
	StatusApproved:  {StatusPublished, StatusArchived},
	StatusPublished: {StatusArchived},
	StatusArchived:  {},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Product is an authenticated catalog item owned by a factory. QRCode is empty
// only for batch-imported rows that have not had a code assigned yet; once set
// it is immutable.
type Product struct {
	ID          string    `json:"id"`
	QRCode      string    `json:"qr_code,omitempty"`
	FactoryID   string    `json:"factory_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	ScanCount   int64     `json:"scan_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Factory is the tenant owning products and non-admin users.
type Factory struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows product listings. FactoryID is forced server-side for
// non-admin principals regardless of what the client supplied.
type ListFilter struct {
	FactoryID string
	Status    Status
	Limit     int
	Offset    int
}

// Page is one page of a product listing.
type Page struct {
	Items  []Product `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

var (
	ErrNotFound          = errors.New("product: not found")
	ErrCodeTaken         = errors.New("product: qr code already taken")
	ErrInvalidInput      = errors.New("product: invalid input")
	ErrInvalidTransition = errors.New("product: invalid status transition")
	ErrPermissionDenied  = errors.New("product: permission denied")
)
