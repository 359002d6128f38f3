package product

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BatchType identifies what a batch operation does to each admitted item.
type BatchType string

const (
	BatchCreateProducts  BatchType = "create_products"
	BatchUpdateProducts  BatchType = "update_products"
	BatchGenerateQRCodes BatchType = "generate_qr_codes"
)

// Valid reports whether the batch type is known.
func (t BatchType) Valid() bool {
	switch t {
	case BatchCreateProducts, BatchUpdateProducts, BatchGenerateQRCodes:
		return true
	}
	return false
}

// requiredFields is the per-type structural contract checked at admission.
var requiredFields = map[BatchType][]string{
	BatchCreateProducts:  {"product_name", "product_type"},
	BatchUpdateProducts:  {"id", "product_name"},
	BatchGenerateQRCodes: {"product_id"},
}

// BatchStatus tracks a batch operation through processing.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "completed_with_errors"
)

// BatchItem is one row of batch input. Keys follow the source file's columns.
type BatchItem map[string]string

// BatchItemError references the failing row as presented in the source file:
// row 2 is the first data row, accounting for a header row.
type BatchItemError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e BatchItemError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: field %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// BatchOperation is an admitted batch plus its processing bookkeeping.
type BatchOperation struct {
	ID         string           `json:"id"`
	FactoryID  string           `json:"factory_id"`
	Type       BatchType        `json:"type"`
	Status     BatchStatus      `json:"status"`
	Items      []BatchItem      `json:"items"`
	ItemCount  int              `json:"item_count"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	ItemErrors []BatchItemError `json:"item_errors,omitempty"`
	CreatedBy  string           `json:"created_by"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// rowNumber converts a zero-based item index to its 1-based source row.
func rowNumber(index int) int { return index + 2 }

// validateBatchItems checks every item against the type's required-field set.
// Admission is all-or-nothing: a single structural failure rejects the batch,
// and every violation is reported so the caller can fix the file in one pass.
func validateBatchItems(opType BatchType, items []BatchItem) []BatchItemError {
	required := requiredFields[opType]
	var errs []BatchItemError
	for i, item := range items {
		for _, field := range required {
			if strings.TrimSpace(item[field]) == "" {
				errs = append(errs, BatchItemError{
					Row:     rowNumber(i),
					Field:   field,
					Message: "required field is missing or empty",
				})
			}
		}
	}
	sort.SliceStable(errs, func(a, b int) bool { return errs[a].Row < errs[b].Row })
	return errs
}
