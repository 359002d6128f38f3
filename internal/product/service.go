package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/ids"
	"certiscan.io/internal/obs"
	"certiscan.io/internal/qrid"
)

// Service orchestrates authorization, QR identity generation and persistence
// for the product and factory lifecycle. Authorization always completes before
// any mutation; audit emission is best-effort and never fails an operation.
type Service struct {
	store Store
	gen   *qrid.Generator
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source. Only intended for test use.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithGenerator overrides the QR generator (e.g. a seeded one in tests).
func WithGenerator(g *qrid.Generator) ServiceOption {
	return func(s *Service) {
		if g != nil {
			s.gen = g
		}
	}
}

// NewService constructs a Service whose generator consults the store as its
// uniqueness oracle.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("product: store is required")
	}
	gen, err := qrid.NewGenerator(oracle{store})
	if err != nil {
		return nil, err
	}
	s := &Service{store: store, gen: gen, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// oracle adapts Store to qrid.Oracle.
type oracle struct{ store Store }

func (o oracle) Exists(ctx context.Context, code string) (bool, error) {
	return o.store.CodeExists(ctx, code)
}

// denyError maps an authorization decision to the error surfaced to callers.
// Resource-addressed operations pass hideExistence so a cross-tenant denial
// reads as not-found instead of confirming the resource exists.
func denyError(d auth.Decision, hideExistence bool) error {
	switch d.Reason {
	case auth.DenyInactiveAccount:
		return auth.ErrUnauthorized
	case auth.DenyTenantMismatch:
		if hideExistence {
			return ErrNotFound
		}
		return ErrPermissionDenied
	default:
		return ErrPermissionDenied
	}
}

// CreateProductInput carries the caller-supplied fields for CreateProduct.
type CreateProductInput struct {
	FactoryID   string `json:"factory_id"`
	Name        string `json:"product_name"`
	Type        string `json:"product_type"`
	Description string `json:"description,omitempty"`
}

// CreateProduct reserves a fresh QR identity and persists the product in one
// logical step. A unique-constraint conflict at insert time means another
// request won the code, so the whole generate-and-insert cycle retries under
// the generator's attempt bound.
func (s *Service) CreateProduct(ctx context.Context, principal auth.Principal, in CreateProductInput) (Product, error) {
	in.FactoryID = strings.TrimSpace(in.FactoryID)
	if in.FactoryID == "" {
		in.FactoryID = principal.FactoryID
	}
	if d := auth.Authorize(principal, auth.PermProductsCreate, in.FactoryID); d.Denied() {
		return Product{}, denyError(d, false)
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	if in.Name == "" {
		return Product{}, fmt.Errorf("%w: product_name is required", ErrInvalidInput)
	}
	if in.Type == "" {
		return Product{}, fmt.Errorf("%w: product_type is required", ErrInvalidInput)
	}
	if in.FactoryID == "" {
		return Product{}, fmt.Errorf("%w: factory_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetFactory(ctx, in.FactoryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, fmt.Errorf("%w: unknown factory %s", ErrInvalidInput, in.FactoryID)
		}
		return Product{}, err
	}

	for attempt := 0; attempt < qrid.DefaultMaxAttempts; attempt++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return Product{}, err
		}
		now := s.now()
		p := Product{
			ID:          ids.New(),
			QRCode:      code,
			FactoryID:   in.FactoryID,
			Name:        in.Name,
			Type:        in.Type,
			Description: strings.TrimSpace(in.Description),
			Status:      StatusDraft,
			CreatedBy:   principal.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.store.InsertProduct(ctx, &p)
		if errors.Is(err, ErrCodeTaken) {
			// Lost the race past the pre-check; draw again.
			obs.QRAttempt(true)
			continue
		}
		if err != nil {
			return Product{}, err
		}
		audit.Emit(ctx, audit.TypeResource, "PRODUCT_CREATED", audit.Entry{
			ActorID:      principal.UserID,
			FactoryID:    p.FactoryID,
			ResourceType: "product",
			ResourceID:   p.ID,
			Metadata:     map[string]string{"qr_code": p.QRCode, "status": string(p.Status)},
		})
		return p, nil
	}
	return Product{}, qrid.ErrExhausted
}

// MintCodes draws n unused codes in one blocking request, for pre-printed
// label runs. The codes are not reserved: each one is only owned once a
// product insert or assignment wins the unique constraint.
func (s *Service) MintCodes(ctx context.Context, principal auth.Principal, n int) ([]string, error) {
	if d := auth.Authorize(principal, auth.PermProductsCreate, principal.FactoryID); d.Denied() {
		return nil, denyError(d, false)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidInput)
	}
	if n > qrid.SyncBatchLimit {
		return nil, fmt.Errorf("%w: count %d exceeds limit %d", ErrInvalidInput, n, qrid.SyncBatchLimit)
	}
	return s.gen.GenerateBatch(ctx, n)
}

// GetProduct returns a product visible to the principal. Cross-tenant lookups
// surface as not-found so existence is never confirmed to another tenant.
func (s *Service) GetProduct(ctx context.Context, principal auth.Principal, id string) (Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if d := auth.Authorize(principal, auth.PermProductsRead, p.FactoryID); d.Denied() {
		return Product{}, denyError(d, true)
	}
	return p, nil
}

// ListProducts lists products with the tenant filter forced server-side for
// non-admin principals; a conflicting client-supplied factory filter is
// overridden, never honored.
func (s *Service) ListProducts(ctx context.Context, principal auth.Principal, filter ListFilter) (Page, error) {
	if principal.Role != auth.RoleAdmin {
		filter.FactoryID = principal.FactoryID
	}
	if d := auth.Authorize(principal, auth.PermProductsRead, filter.FactoryID); d.Denied() {
		return Page{}, denyError(d, false)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	return s.store.ListProducts(ctx, filter)
}

// UpdateStatus moves a product along its lifecycle via an explicit privileged
// action. Only the enumerated transitions are accepted.
func (s *Service) UpdateStatus(ctx context.Context, principal auth.Principal, id string, to Status) (Product, error) {
	if !to.Valid() {
		return Product{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if d := auth.Authorize(principal, auth.PermProductsUpdate, p.FactoryID); d.Denied() {
		return Product{}, denyError(d, true)
	}
	if !CanTransition(p.Status, to) {
		return Product{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	if err := s.store.UpdateProductStatus(ctx, id, p.Status, to); err != nil {
		return Product{}, err
	}
	audit.Emit(ctx, audit.TypeResource, "PRODUCT_STATUS_CHANGED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    p.FactoryID,
		ResourceType: "product",
		ResourceID:   p.ID,
		Metadata:     map[string]string{"from": string(p.Status), "to": string(to)},
	})
	p.Status = to
	return p, nil
}

// VerifyByCode is the public verification lookup. It validates the code shape
// before touching storage and records the scan on success.
func (s *Service) VerifyByCode(ctx context.Context, code string) (Product, Factory, error) {
	if !qrid.IsValidFormat(code) {
		obs.ScanRecorded("unknown_code")
		return Product{}, Factory{}, ErrNotFound
	}
	p, err := s.store.RecordScan(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ScanRecorded("unknown_code")
		}
		return Product{}, Factory{}, err
	}
	obs.ScanRecorded("ok")
	f, err := s.store.GetFactory(ctx, p.FactoryID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Product{}, Factory{}, err
	}
	return p, f, nil
}

// --- factories ---

// FactoryInput carries caller-supplied factory fields.
type FactoryInput struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// CreateFactory registers a new tenant. Only roles holding factories:create
// (admin) pass the permission check.
func (s *Service) CreateFactory(ctx context.Context, principal auth.Principal, in FactoryInput) (Factory, error) {
	if d := auth.Authorize(principal, auth.PermFactoriesCreate, principal.FactoryID); d.Denied() {
		return Factory{}, denyError(d, false)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Factory{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := s.now()
	f := Factory{
		ID:        ids.New(),
		Name:      in.Name,
		Address:   strings.TrimSpace(in.Address),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertFactory(ctx, &f); err != nil {
		return Factory{}, err
	}
	audit.Emit(ctx, audit.TypeResource, "FACTORY_CREATED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    f.ID,
		ResourceType: "factory",
		ResourceID:   f.ID,
		Metadata:     map[string]string{"name": f.Name},
	})
	return f, nil
}

// GetFactory returns a factory visible to the principal.
func (s *Service) GetFactory(ctx context.Context, principal auth.Principal, id string) (Factory, error) {
	f, err := s.store.GetFactory(ctx, id)
	if err != nil {
		return Factory{}, err
	}
	if d := auth.Authorize(principal, auth.PermFactoriesRead, f.ID); d.Denied() {
		return Factory{}, denyError(d, true)
	}
	return f, nil
}

// ListFactories returns every factory for admins and the principal's own
// factory for anyone else holding factories:read.
func (s *Service) ListFactories(ctx context.Context, principal auth.Principal) ([]Factory, error) {
	if principal.Role == auth.RoleAdmin {
		if d := auth.Authorize(principal, auth.PermFactoriesRead, ""); d.Denied() {
			return nil, denyError(d, false)
		}
		return s.store.ListFactories(ctx)
	}
	if d := auth.Authorize(principal, auth.PermFactoriesRead, principal.FactoryID); d.Denied() {
		return nil, denyError(d, false)
	}
	f, err := s.store.GetFactory(ctx, principal.FactoryID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Factory{}, nil
		}
		return nil, err
	}
	return []Factory{f}, nil
}

// UpdateFactory updates tenant metadata, scoped like every other write.
func (s *Service) UpdateFactory(ctx context.Context, principal auth.Principal, id string, in FactoryInput) (Factory, error) {
	f, err := s.store.GetFactory(ctx, id)
	if err != nil {
		return Factory{}, err
	}
	if d := auth.Authorize(principal, auth.PermFactoriesUpdate, f.ID); d.Denied() {
		return Factory{}, denyError(d, true)
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		f.Name = name
	}
	if addr := strings.TrimSpace(in.Address); addr != "" {
		f.Address = addr
	}
	if in.Active != nil {
		f.Active = *in.Active
	}
	if err := s.store.UpdateFactory(ctx, &f); err != nil {
		return Factory{}, err
	}
	audit.Emit(ctx, audit.TypeResource, "FACTORY_UPDATED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    f.ID,
		ResourceType: "factory",
		ResourceID:   f.ID,
	})
	return f, nil
}
