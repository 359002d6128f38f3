package product

import "context"

// Store describes persistence required by the product domain. Implementations
// must enforce QR code uniqueness at insert/assign time and surface conflicts
// as ErrCodeTaken; the generator's pre-check alone is not the correctness
// mechanism.
type Store interface {
	// CodeExists reports whether a QR code was ever issued, archived products
	// included. Satisfies qrid.Oracle.
	CodeExists(ctx context.Context, code string) (bool, error)

	InsertProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (Product, error)
	GetProductByCode(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) (Page, error)
	UpdateProductStatus(ctx context.Context, id string, from, to Status) error
	UpdateProductName(ctx context.Context, id, name string) error
	// AssignCode sets the QR code on a product that has none yet.
	AssignCode(ctx context.Context, id, code string) error
	// RecordScan increments the scan counter and returns the fresh row.
	RecordScan(ctx context.Context, code string) (Product, error)

	InsertFactory(ctx context.Context, f *Factory) error
	GetFactory(ctx context.Context, id string) (Factory, error)
	ListFactories(ctx context.Context) ([]Factory, error)
	UpdateFactory(ctx context.Context, f *Factory) error

	InsertBatch(ctx context.Context, b *BatchOperation) error
	GetBatch(ctx context.Context, id string) (BatchOperation, error)
	ListBatchesByFactory(ctx context.Context, factoryID string) ([]BatchOperation, error)
	UpdateBatch(ctx context.Context, b *BatchOperation) error
}
