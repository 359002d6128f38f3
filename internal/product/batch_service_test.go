package product

import (
	"context"
	"errors"
	"strings"
	"testing"

	"certiscan.io/internal/auth"
	"certiscan.io/internal/qrid"
)

func managerF1() auth.Principal {
	return auth.Principal{UserID: "mg-1", Role: auth.RoleFactoryManager, FactoryID: "F1", Active: true}
}

func TestCreateBatchAdmissionAllOrNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	items := []BatchItem{
		{"product_name": "Widget A", "product_type": "Electronics"},
		{"product_name": "", "product_type": "Electronics"},
		{"product_name": "Widget C", "product_type": ""},
	}
	_, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, items)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var verr *BatchValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected BatchValidationError, got %T", err)
	}
	if len(verr.Errs) != 2 {
		t.Fatalf("expected 2 row errors, got %d: %+v", len(verr.Errs), verr.Errs)
	}
	// First data row is row 2, so the invalid items sit on rows 3 and 4.
	if verr.Errs[0].Row != 3 || verr.Errs[1].Row != 4 {
		t.Fatalf("wrong rows reported: %+v", verr.Errs)
	}
	if verr.Errs[0].Field != "product_name" || verr.Errs[1].Field != "product_type" {
		t.Fatalf("wrong fields reported: %+v", verr.Errs)
	}
}

func TestCreateBatchRejectsUnknownTypeAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateBatch(ctx, managerF1(), "F1", "delete_products", []BatchItem{{"x": "y"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown type: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty batch: expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateBatchForcesTenant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// A manager naming another factory gets their own factory, not a denial:
	// the server-side tenant filter overrides the claim.
	b, err := svc.CreateBatch(ctx, managerF1(), "F2", BatchCreateProducts, []BatchItem{
		{"product_name": "Widget", "product_type": "Electronics"},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.FactoryID != "F1" {
		t.Fatalf("batch escaped tenant scope: %+v", b)
	}
	if b.Status != BatchStatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
}

func TestProcessBatchCreateProducts(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, []BatchItem{
		{"product_name": "Widget A", "product_type": "Electronics"},
		{"product_name": "Widget B", "product_type": "Toys", "description": "squeaks"},
	})
	if err != nil {
		t.Fatal(err)
	}

	done, err := svc.ProcessBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if done.Status != BatchStatusCompleted || done.Succeeded != 2 || done.Failed != 0 {
		t.Fatalf("unexpected outcome: %+v", done)
	}

	page, err := svc.ListProducts(ctx, managerF1(), ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 products, got %d", page.Total)
	}
	// Imported rows carry no code until a generate_qr_codes batch assigns one.
	for _, p := range page.Items {
		if p.QRCode != "" {
			t.Fatalf("imported product should have no code yet: %+v", p)
		}
	}

	if got := len(sink.byName("BATCH_PROCESSED")); got != 1 {
		t.Fatalf("expected one BATCH_PROCESSED entry, got %d", got)
	}
}

func TestProcessBatchGenerateQRCodes(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, []BatchItem{
		{"product_name": "Widget A", "product_type": "T"},
		{"product_name": "Widget B", "product_type": "T"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProcessBatch(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	page, err := store.ListProducts(ctx, ListFilter{FactoryID: "F1"})
	if err != nil {
		t.Fatal(err)
	}

	items := make([]BatchItem, 0, len(page.Items))
	for _, p := range page.Items {
		items = append(items, BatchItem{"product_id": p.ID})
	}
	gb, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchGenerateQRCodes, items)
	if err != nil {
		t.Fatal(err)
	}
	done, err := svc.ProcessBatch(ctx, gb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != BatchStatusCompleted || done.Succeeded != 2 {
		t.Fatalf("unexpected outcome: %+v", done)
	}

	seen := map[string]struct{}{}
	page, _ = store.ListProducts(ctx, ListFilter{FactoryID: "F1"})
	for _, p := range page.Items {
		if !qrid.IsValidFormat(p.QRCode) {
			t.Fatalf("product %s has invalid code %q", p.ID, p.QRCode)
		}
		if _, dup := seen[p.QRCode]; dup {
			t.Fatalf("duplicate code %q", p.QRCode)
		}
		seen[p.QRCode] = struct{}{}
	}

	// A second assignment attempt must fail per item without changing the code.
	again, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchGenerateQRCodes, items)
	if err != nil {
		t.Fatal(err)
	}
	done, err = svc.ProcessBatch(ctx, again.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != BatchStatusPartial || done.Failed != 2 {
		t.Fatalf("re-generation should fail every item: %+v", done)
	}
	for _, ie := range done.ItemErrors {
		if !strings.Contains(ie.Message, "already has code") {
			t.Fatalf("unexpected item error: %+v", ie)
		}
	}
}

func TestProcessBatchIsolatesItemFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, managerF1(), CreateProductInput{FactoryID: "F1", Name: "Widget", Type: "T"})
	if err != nil {
		t.Fatal(err)
	}

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchUpdateProducts, []BatchItem{
		{"id": p.ID, "product_name": "Widget v2"},
		{"id": "missing-id", "product_name": "Ghost"},
	})
	if err != nil {
		t.Fatal(err)
	}
	done, err := svc.ProcessBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("item failure must not abort the batch: %v", err)
	}
	if done.Status != BatchStatusPartial || done.Succeeded != 1 || done.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", done)
	}
	if len(done.ItemErrors) != 1 || done.ItemErrors[0].Row != 3 {
		t.Fatalf("failure should reference source row 3: %+v", done.ItemErrors)
	}

	updated, err := svc.GetProduct(ctx, managerF1(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Widget v2" {
		t.Fatalf("successful item not applied: %+v", updated)
	}
}

func TestProcessBatchHidesCrossTenantRows(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	other := auth.Principal{UserID: "op-2", Role: auth.RoleFactoryOperator, FactoryID: "F2", Active: true}
	foreign, err := svc.CreateProduct(ctx, other, CreateProductInput{FactoryID: "F2", Name: "Widget", Type: "T"})
	if err != nil {
		t.Fatal(err)
	}

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchUpdateProducts, []BatchItem{
		{"id": foreign.ID, "product_name": "Hijacked"},
	})
	if err != nil {
		t.Fatal(err)
	}
	done, err := svc.ProcessBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Failed != 1 {
		t.Fatalf("cross-tenant row must fail: %+v", done)
	}
	if !strings.Contains(done.ItemErrors[0].Message, "not found") {
		t.Fatalf("cross-tenant failure must read as not-found: %+v", done.ItemErrors[0])
	}

	unchanged, err := svc.GetProduct(ctx, other, foreign.ID)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged.Name != "Widget" {
		t.Fatalf("foreign product was modified: %+v", unchanged)
	}
}

func TestProcessBatchRejectsNonPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, []BatchItem{
		{"product_name": "Widget", "product_type": "T"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProcessBatch(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProcessBatch(ctx, b.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("reprocessing should be rejected, got %v", err)
	}
}

func TestGetBatchCrossTenantReadsAsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBatch(ctx, managerF1(), "F1", BatchCreateProducts, []BatchItem{
		{"product_name": "Widget", "product_type": "T"},
	})
	if err != nil {
		t.Fatal(err)
	}

	other := auth.Principal{UserID: "mg-2", Role: auth.RoleFactoryManager, FactoryID: "F2", Active: true}
	if _, err := svc.GetBatch(ctx, other, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
