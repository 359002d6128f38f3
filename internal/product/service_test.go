package product

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/obs"
	"certiscan.io/internal/qrid"
)

type testSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *testSink) Append(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *testSink) byName(name string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.EventName == name {
			out = append(out, e)
		}
	}
	return out
}

func quietLogs(t *testing.T) {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { logger.SetOutput(original) })
}

func newTestService(t *testing.T) (*Service, *InMemory, *testSink) {
	t.Helper()
	quietLogs(t)
	sink := &testSink{}
	audit.SetSink(sink)
	t.Cleanup(func() { audit.SetSink(nil) })

	store := NewInMemory()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	for _, f := range []Factory{
		{ID: "F1", Name: "Shenzhen Plant", Active: true},
		{ID: "F2", Name: "Hamburg Plant", Active: true},
	} {
		cp := f
		if err := store.InsertFactory(ctx, &cp); err != nil {
			t.Fatalf("seed factory: %v", err)
		}
	}
	return svc, store, sink
}

func operatorF1() auth.Principal {
	return auth.Principal{UserID: "op-1", Role: auth.RoleFactoryOperator, FactoryID: "F1", Active: true}
}

func TestCreateProductScenario(t *testing.T) {
	svc, _, sink := newTestService(t)

	p, err := svc.CreateProduct(context.Background(), operatorF1(), CreateProductInput{
		FactoryID: "F1",
		Name:      "Widget",
		Type:      "Electronics",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !qrid.IsValidFormat(p.QRCode) {
		t.Fatalf("qr code %q fails format check", p.QRCode)
	}
	if p.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", p.Status)
	}
	if p.CreatedBy != "op-1" || p.FactoryID != "F1" {
		t.Fatalf("unexpected ownership: %+v", p)
	}

	created := sink.byName("PRODUCT_CREATED")
	if len(created) != 1 {
		t.Fatalf("expected one PRODUCT_CREATED audit entry, got %d", len(created))
	}
	if created[0].Metadata["qr_code"] != p.QRCode {
		t.Fatalf("audit entry missing qr code: %+v", created[0])
	}
}

func TestCreateProductCrossTenantDenied(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateProduct(context.Background(), operatorF1(), CreateProductInput{
		FactoryID: "F2",
		Name:      "Widget",
		Type:      "Electronics",
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCreateProductInactivePrincipal(t *testing.T) {
	svc, _, _ := newTestService(t)

	p := operatorF1()
	p.Active = false
	_, err := svc.CreateProduct(context.Background(), p, CreateProductInput{
		FactoryID: "F1", Name: "Widget", Type: "Electronics",
	})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []CreateProductInput{
		{FactoryID: "F1", Name: "", Type: "Electronics"},
		{FactoryID: "F1", Name: "Widget", Type: ""},
	}
	for _, in := range cases {
		if _, err := svc.CreateProduct(ctx, operatorF1(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("input %+v: expected ErrInvalidInput, got %v", in, err)
		}
	}

	admin := auth.Principal{UserID: "a-1", Role: auth.RoleAdmin, Active: true}
	_, err := svc.CreateProduct(ctx, admin, CreateProductInput{
		FactoryID: "F404", Name: "Widget", Type: "Electronics",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown factory, got %v", err)
	}
}

// conflictStore forces the first n inserts to collide, simulating another
// request winning the code between pre-check and insert.
type conflictStore struct {
	Store
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) InsertProduct(ctx context.Context, p *Product) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return ErrCodeTaken
	}
	c.mu.Unlock()
	return c.Store.InsertProduct(ctx, p)
}

func TestCreateProductRetriesOnInsertConflict(t *testing.T) {
	quietLogs(t)
	mem := NewInMemory()
	ctx := context.Background()
	f := Factory{ID: "F1", Name: "Plant", Active: true}
	if err := mem.InsertFactory(ctx, &f); err != nil {
		t.Fatal(err)
	}

	store := &conflictStore{Store: mem, conflicts: 3}
	svc, err := NewService(store)
	if err != nil {
		t.Fatal(err)
	}

	p, err := svc.CreateProduct(ctx, operatorF1(), CreateProductInput{
		FactoryID: "F1", Name: "Widget", Type: "Electronics",
	})
	if err != nil {
		t.Fatalf("CreateProduct should survive insert conflicts: %v", err)
	}
	if !qrid.IsValidFormat(p.QRCode) {
		t.Fatalf("invalid code after retries: %q", p.QRCode)
	}
}

func TestConcurrentCreatesYieldDistinctCodes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.CreateProduct(ctx, operatorF1(), CreateProductInput{
				FactoryID: "F1", Name: "Widget", Type: "Electronics",
			})
			if err != nil {
				t.Errorf("CreateProduct: %v", err)
				return
			}
			codes <- p.QRCode
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]struct{}, n)
	for code := range codes {
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q survived concurrent creation", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct codes, got %d", n, len(seen))
	}
}

func TestGetProductCrossTenantReadsAsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	other := auth.Principal{UserID: "op-2", Role: auth.RoleFactoryOperator, FactoryID: "F2", Active: true}
	p, err := svc.CreateProduct(ctx, other, CreateProductInput{
		FactoryID: "F2", Name: "Widget", Type: "Electronics",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GetProduct(ctx, operatorF1(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read must surface as not-found, got %v", err)
	}

	admin := auth.Principal{UserID: "a-1", Role: auth.RoleAdmin, Active: true}
	if _, err := svc.GetProduct(ctx, admin, p.ID); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
}

func TestListProductsForcesTenantFilter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, operatorF1(), CreateProductInput{FactoryID: "F1", Name: "A", Type: "T"}); err != nil {
		t.Fatal(err)
	}
	other := auth.Principal{UserID: "op-2", Role: auth.RoleFactoryOperator, FactoryID: "F2", Active: true}
	if _, err := svc.CreateProduct(ctx, other, CreateProductInput{FactoryID: "F2", Name: "B", Type: "T"}); err != nil {
		t.Fatal(err)
	}

	// A client-supplied filter for another factory must be overridden.
	page, err := svc.ListProducts(ctx, operatorF1(), ListFilter{FactoryID: "F2"})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 product, got %d", page.Total)
	}
	if page.Items[0].FactoryID != "F1" {
		t.Fatalf("leaked cross-tenant product: %+v", page.Items[0])
	}

	admin := auth.Principal{UserID: "a-1", Role: auth.RoleAdmin, Active: true}
	page, err = svc.ListProducts(ctx, admin, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("admin should see both products, got %d", page.Total)
	}
}

func TestUpdateStatusFollowsLifecycle(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()
	manager := auth.Principal{UserID: "mg-1", Role: auth.RoleFactoryManager, FactoryID: "F1", Active: true}

	p, err := svc.CreateProduct(ctx, manager, CreateProductInput{FactoryID: "F1", Name: "Widget", Type: "T"})
	if err != nil {
		t.Fatal(err)
	}

	// Skipping pending is not an enumerated transition.
	if _, err := svc.UpdateStatus(ctx, manager, p.ID, StatusApproved); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	for _, next := range []Status{StatusPending, StatusApproved, StatusPublished, StatusArchived} {
		updated, err := svc.UpdateStatus(ctx, manager, p.ID, next)
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("expected %s, got %s", next, updated.Status)
		}
	}

	// Archived is terminal.
	if _, err := svc.UpdateStatus(ctx, manager, p.ID, StatusDraft); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition out of archived, got %v", err)
	}

	if got := len(sink.byName("PRODUCT_STATUS_CHANGED")); got != 4 {
		t.Fatalf("expected 4 status-change audit entries, got %d", got)
	}
}

func TestVerifyByCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, operatorF1(), CreateProductInput{FactoryID: "F1", Name: "Widget", Type: "T"})
	if err != nil {
		t.Fatal(err)
	}

	got, factory, err := svc.VerifyByCode(ctx, p.QRCode)
	if err != nil {
		t.Fatalf("VerifyByCode: %v", err)
	}
	if got.ID != p.ID || factory.ID != "F1" {
		t.Fatalf("unexpected verification result: %+v / %+v", got, factory)
	}
	if got.ScanCount != 1 {
		t.Fatalf("expected scan count 1, got %d", got.ScanCount)
	}

	if _, _, err := svc.VerifyByCode(ctx, "CS-000001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown code: expected ErrNotFound, got %v", err)
	}
	if _, _, err := svc.VerifyByCode(ctx, "not-a-code"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed code: expected ErrNotFound, got %v", err)
	}
}

func TestFactoryOperations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	admin := auth.Principal{UserID: "a-1", Role: auth.RoleAdmin, Active: true}
	manager := auth.Principal{UserID: "mg-1", Role: auth.RoleFactoryManager, FactoryID: "F1", Active: true}

	if _, err := svc.CreateFactory(ctx, manager, FactoryInput{Name: "New Plant"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("manager must not create factories, got %v", err)
	}

	f, err := svc.CreateFactory(ctx, admin, FactoryInput{Name: "New Plant", Address: "Pier 3"})
	if err != nil {
		t.Fatalf("CreateFactory: %v", err)
	}
	if !f.Active {
		t.Fatal("new factory should start active")
	}

	// Manager sees only their own factory.
	own, err := svc.ListFactories(ctx, manager)
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 1 || own[0].ID != "F1" {
		t.Fatalf("manager listing leaked factories: %+v", own)
	}

	all, err := svc.ListFactories(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("admin should see all factories, got %d", len(all))
	}

	if _, err := svc.GetFactory(ctx, manager, "F2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant factory read must be not-found, got %v", err)
	}
}
