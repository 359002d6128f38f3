package product

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/ids"
	"certiscan.io/internal/qrid"
)

// BatchValidationError rejects a whole batch at admission. It carries every
// structural violation so the caller can fix the source file in one pass.
type BatchValidationError struct {
	Errs []BatchItemError
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("batch validation failed: %d invalid row(s)", len(e.Errs))
}

func (e *BatchValidationError) Unwrap() error { return ErrInvalidInput }

// CreateBatch admits a batch operation. Authorization happens once for the
// whole batch; structural validation is all-or-nothing. Admitted items are
// processed independently later, so failure isolation is per-item only after
// this point.
func (s *Service) CreateBatch(ctx context.Context, principal auth.Principal, factoryID string, opType BatchType, items []BatchItem) (BatchOperation, error) {
	if principal.Role != auth.RoleAdmin {
		factoryID = principal.FactoryID
	}
	factoryID = strings.TrimSpace(factoryID)
	if d := auth.Authorize(principal, auth.PermProductsCreate, factoryID); d.Denied() {
		return BatchOperation{}, denyError(d, false)
	}

	if !opType.Valid() {
		return BatchOperation{}, fmt.Errorf("%w: unknown batch type %q", ErrInvalidInput, opType)
	}
	if len(items) == 0 {
		return BatchOperation{}, fmt.Errorf("%w: batch has no items", ErrInvalidInput)
	}
	if len(items) > qrid.AdmissionBatchLimit {
		return BatchOperation{}, fmt.Errorf("%w: batch has %d items, limit is %d", ErrInvalidInput, len(items), qrid.AdmissionBatchLimit)
	}
	if factoryID == "" {
		return BatchOperation{}, fmt.Errorf("%w: factory_id is required", ErrInvalidInput)
	}
	if errs := validateBatchItems(opType, items); len(errs) > 0 {
		return BatchOperation{}, &BatchValidationError{Errs: errs}
	}

	now := s.now()
	b := BatchOperation{
		ID:        ids.New(),
		FactoryID: factoryID,
		Type:      opType,
		Status:    BatchStatusPending,
		Items:     items,
		ItemCount: len(items),
		CreatedBy: principal.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertBatch(ctx, &b); err != nil {
		return BatchOperation{}, err
	}
	audit.Emit(ctx, audit.TypeResource, "BATCH_CREATED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    factoryID,
		ResourceType: "batch",
		ResourceID:   b.ID,
		Metadata: map[string]string{
			"type":       string(opType),
			"item_count": strconv.Itoa(len(items)),
		},
	})
	return b, nil
}

// GetBatch returns a batch visible to the principal.
func (s *Service) GetBatch(ctx context.Context, principal auth.Principal, id string) (BatchOperation, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return BatchOperation{}, err
	}
	if d := auth.Authorize(principal, auth.PermProductsRead, b.FactoryID); d.Denied() {
		return BatchOperation{}, denyError(d, true)
	}
	return b, nil
}

// ListBatches lists the principal's factory batches (or any factory for admin).
func (s *Service) ListBatches(ctx context.Context, principal auth.Principal, factoryID string) ([]BatchOperation, error) {
	if principal.Role != auth.RoleAdmin {
		factoryID = principal.FactoryID
	}
	if d := auth.Authorize(principal, auth.PermProductsRead, factoryID); d.Denied() {
		return nil, denyError(d, false)
	}
	return s.store.ListBatchesByFactory(ctx, factoryID)
}

// ProcessBatch executes an admitted batch item by item. Item failures are
// recorded with their source row number and never abort the rest of the batch.
func (s *Service) ProcessBatch(ctx context.Context, batchID string) (BatchOperation, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return BatchOperation{}, err
	}
	if b.Status != BatchStatusPending {
		return BatchOperation{}, fmt.Errorf("%w: batch is %s", ErrInvalidInput, b.Status)
	}
	b.Status = BatchStatusProcessing
	if err := s.store.UpdateBatch(ctx, &b); err != nil {
		return BatchOperation{}, err
	}

	for i, item := range b.Items {
		if err := s.processBatchItem(ctx, &b, item); err != nil {
			b.Failed++
			b.ItemErrors = append(b.ItemErrors, BatchItemError{
				Row:     rowNumber(i),
				Message: err.Error(),
			})
			continue
		}
		b.Succeeded++
	}

	if b.Failed > 0 {
		b.Status = BatchStatusPartial
	} else {
		b.Status = BatchStatusCompleted
	}
	if err := s.store.UpdateBatch(ctx, &b); err != nil {
		return BatchOperation{}, err
	}
	audit.Emit(ctx, audit.TypeResource, "BATCH_PROCESSED", audit.Entry{
		FactoryID:    b.FactoryID,
		ActorID:      b.CreatedBy,
		ResourceType: "batch",
		ResourceID:   b.ID,
		Metadata: map[string]string{
			"succeeded": strconv.Itoa(b.Succeeded),
			"failed":    strconv.Itoa(b.Failed),
			"status":    string(b.Status),
		},
	})
	return b, nil
}

func (s *Service) processBatchItem(ctx context.Context, b *BatchOperation, item BatchItem) error {
	switch b.Type {
	case BatchCreateProducts:
		return s.batchCreateProduct(ctx, b, item)
	case BatchUpdateProducts:
		return s.batchUpdateProduct(ctx, b, item)
	case BatchGenerateQRCodes:
		return s.batchGenerateCode(ctx, b, item)
	default:
		return fmt.Errorf("unknown batch type %q", b.Type)
	}
}

// batchCreateProduct creates a product without a QR code; codes for imported
// rows are assigned later by a generate_qr_codes batch.
func (s *Service) batchCreateProduct(ctx context.Context, b *BatchOperation, item BatchItem) error {
	now := s.now()
	p := Product{
		ID:          ids.New(),
		FactoryID:   b.FactoryID,
		Name:        strings.TrimSpace(item["product_name"]),
		Type:        strings.TrimSpace(item["product_type"]),
		Description: strings.TrimSpace(item["description"]),
		Status:      StatusDraft,
		CreatedBy:   b.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.store.InsertProduct(ctx, &p)
}

func (s *Service) batchUpdateProduct(ctx context.Context, b *BatchOperation, item BatchItem) error {
	id := strings.TrimSpace(item["id"])
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if p.FactoryID != b.FactoryID {
		// Cross-tenant row in the file: report not-found, not whose it is.
		return ErrNotFound
	}
	return s.store.UpdateProductName(ctx, id, strings.TrimSpace(item["product_name"]))
}

func (s *Service) batchGenerateCode(ctx context.Context, b *BatchOperation, item BatchItem) error {
	id := strings.TrimSpace(item["product_id"])
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if p.FactoryID != b.FactoryID {
		return ErrNotFound
	}
	if p.QRCode != "" {
		return fmt.Errorf("product already has code %s", p.QRCode)
	}
	for attempt := 0; attempt < qrid.DefaultMaxAttempts; attempt++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return err
		}
		err = s.store.AssignCode(ctx, id, code)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		return err
	}
	return qrid.ErrExhausted
}
