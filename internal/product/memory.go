package product

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"certiscan.io/internal/auth"
)

// InMemory implements Store and auth.UserStore with in-process concurrency
// safety. Used in tests and when no database DSN is configured. QR uniqueness
// is enforced atomically under the mutex, mirroring the database's unique
// constraint: an insert or assign of a taken code fails with ErrCodeTaken.
type InMemory struct {
	mu        sync.RWMutex
	products  map[string]*Product
	codes     map[string]string // qr code -> product id, never deleted
	factories map[string]*Factory
	batches   map[string]*BatchOperation
	users     map[string]*auth.User
	emails    map[string]string // lower-cased email -> user id
}

var (
	_ Store          = (*InMemory)(nil)
	_ auth.UserStore = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		products:  make(map[string]*Product),
		codes:     make(map[string]string),
		factories: make(map[string]*Factory),
		batches:   make(map[string]*BatchOperation),
		users:     make(map[string]*auth.User),
		emails:    make(map[string]string),
	}
}

func (s *InMemory) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *InMemory) InsertProduct(ctx context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("%w: duplicate product id %s", ErrInvalidInput, p.ID)
	}
	if p.QRCode != "" {
		if _, taken := s.codes[p.QRCode]; taken {
			return ErrCodeTaken
		}
		s.codes[p.QRCode] = p.ID
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *InMemory) GetProduct(ctx context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) GetProductByCode(ctx context.Context, code string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return Product{}, ErrNotFound
	}
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListProducts(ctx context.Context, filter ListFilter) (Page, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Product
	for _, p := range s.products {
		if filter.FactoryID != "" && p.FactoryID != filter.FactoryID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		matched = append(matched, *p)
	}
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID < matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return Page{Items: []Product{}, Total: total, Limit: limit, Offset: offset}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return Page{Items: matched[offset:end], Total: total, Limit: limit, Offset: offset}, nil
}

func (s *InMemory) UpdateProductStatus(ctx context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != from {
		return fmt.Errorf("%w: product is %s, not %s", ErrInvalidTransition, p.Status, from)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) UpdateProductName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) AssignCode(ctx context.Context, id, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.QRCode != "" {
		return fmt.Errorf("%w: product already has code %s", ErrInvalidInput, p.QRCode)
	}
	if _, taken := s.codes[code]; taken {
		return ErrCodeTaken
	}
	s.codes[code] = id
	p.QRCode = code
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) RecordScan(ctx context.Context, code string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codes[code]
	if !ok {
		return Product{}, ErrNotFound
	}
	p := s.products[id]
	p.ScanCount++
	return *p, nil
}

func (s *InMemory) InsertFactory(ctx context.Context, f *Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.factories[f.ID]; ok {
		return fmt.Errorf("%w: duplicate factory id %s", ErrInvalidInput, f.ID)
	}
	cp := *f
	s.factories[f.ID] = &cp
	return nil
}

func (s *InMemory) GetFactory(ctx context.Context, id string) (Factory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factories[id]
	if !ok {
		return Factory{}, ErrNotFound
	}
	return *f, nil
}

func (s *InMemory) ListFactories(ctx context.Context) ([]Factory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Factory, 0, len(s.factories))
	for _, f := range s.factories {
		out = append(out, *f)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (s *InMemory) UpdateFactory(ctx context.Context, f *Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.factories[f.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = f.Name
	existing.Address = f.Address
	existing.Active = f.Active
	existing.UpdatedAt = time.Now().UTC()
	*f = *existing
	return nil
}

func (s *InMemory) InsertBatch(ctx context.Context, b *BatchOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("%w: duplicate batch id %s", ErrInvalidInput, b.ID)
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *InMemory) GetBatch(ctx context.Context, id string) (BatchOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return BatchOperation{}, ErrNotFound
	}
	return *b, nil
}

func (s *InMemory) ListBatchesByFactory(ctx context.Context, factoryID string) ([]BatchOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BatchOperation
	for _, b := range s.batches {
		if b.FactoryID == factoryID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateBatch(ctx context.Context, b *BatchOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	cp.UpdatedAt = time.Now().UTC()
	s.batches[b.ID] = &cp
	*b = cp
	return nil
}

// --- auth.UserStore ---

func (s *InMemory) CreateUser(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := s.emails[email]; ok {
		return auth.ErrConflict
	}
	cp := *u
	cp.Email = email
	s.users[u.ID] = &cp
	s.emails[email] = u.ID
	return nil
}

func (s *InMemory) FindUser(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *InMemory) ListUsersByFactory(ctx context.Context, factoryID string) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auth.User
	for _, u := range s.users {
		if u.FactoryID == factoryID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Email < out[b].Email })
	return out, nil
}

func (s *InMemory) UpdateUserRole(ctx context.Context, userID string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) UpdateUserStatus(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}
