package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/product"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func uniqueErr(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func productRows(p product.Product) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "qr_code", "factory_id", "name", "type", "description",
		"status", "created_by", "scan_count", "created_at", "updated_at",
	}).AddRow(p.ID, p.QRCode, p.FactoryID, p.Name, p.Type, p.Description,
		p.Status, p.CreatedBy, p.ScanCount, p.CreatedAt, p.UpdatedAt)
}

func TestDBExposesHandleForReadyProbe(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewWithDB(db)
	assert.Same(t, db, store.DB())
}

func TestCodeExists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select exists(select 1 from products where qr_code=$1)`)).
		WithArgs("CS-123456").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	taken, err := store.CodeExists(context.Background(), "CS-123456")
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProductUniqueViolationIsCodeTaken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`insert into products`)).
		WillReturnError(uniqueErr("products_qr_code_key"))

	now := time.Now().UTC()
	err := store.InsertProduct(context.Background(), &product.Product{
		ID: "p-1", QRCode: "CS-123456", FactoryID: "F1", Name: "Widget", Type: "T",
		Status: product.StatusDraft, CreatedBy: "u-1", CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, product.ErrCodeTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProductOtherErrorPassesThrough(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`insert into products`)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "products_factory_id_fkey"})

	err := store.InsertProduct(context.Background(), &product.Product{ID: "p-1"})
	assert.NotErrorIs(t, err, product.ErrCodeTaken)
	assert.Error(t, err)
}

func TestGetProductNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .+ from products where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, product.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScanIncrementsAndReturnsRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	p := product.Product{
		ID: "p-1", QRCode: "CS-123456", FactoryID: "F1", Name: "Widget", Type: "T",
		Status: product.StatusPublished, CreatedBy: "u-1", ScanCount: 4,
		CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery(regexp.QuoteMeta(`update products set scan_count = scan_count + 1`)).
		WithArgs("CS-123456").
		WillReturnRows(productRows(p))

	got, err := store.RecordScan(context.Background(), "CS-123456")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.ScanCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignCodeConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update products set qr_code=$2`)).
		WithArgs("p-1", "CS-123456").
		WillReturnError(uniqueErr("products_qr_code_key"))

	err := store.AssignCode(context.Background(), "p-1", "CS-123456")
	assert.ErrorIs(t, err, product.ErrCodeTaken)
}

func TestAssignCodeAlreadyAssigned(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`update products set qr_code=$2`)).
		WithArgs("p-1", "CS-123456").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .+ from products where id=").
		WithArgs("p-1").
		WillReturnRows(productRows(product.Product{
			ID: "p-1", QRCode: "CS-999999", FactoryID: "F1", Name: "W", Type: "T",
			Status: product.StatusDraft, CreatedBy: "u", CreatedAt: now, UpdatedAt: now,
		}))

	err := store.AssignCode(context.Background(), "p-1", "CS-123456")
	assert.ErrorIs(t, err, product.ErrInvalidInput)
	assert.Contains(t, err.Error(), "CS-999999")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductStatusGuardsCurrentState(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update products set status=$3`)).
		WithArgs("p-1", product.StatusDraft, product.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateProductStatus(context.Background(), "p-1", product.StatusDraft, product.StatusPending)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductStatusConcurrentChange(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`update products set status=$3`)).
		WithArgs("p-1", product.StatusDraft, product.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .+ from products where id=").
		WithArgs("p-1").
		WillReturnRows(productRows(product.Product{
			ID: "p-1", FactoryID: "F1", Name: "W", Type: "T",
			Status: product.StatusArchived, CreatedBy: "u", CreatedAt: now, UpdatedAt: now,
		}))

	err := store.UpdateProductStatus(context.Background(), "p-1", product.StatusDraft, product.StatusPending)
	assert.ErrorIs(t, err, product.ErrInvalidTransition)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`insert into users`)).
		WillReturnError(uniqueErr("users_email_key"))

	now := time.Now().UTC()
	err := store.CreateUser(context.Background(), &auth.User{
		ID: "u-1", Email: "dup@example.com", PasswordHash: "x",
		Role: auth.RoleFactoryOperator, FactoryID: "F1", Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestFindUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .+ from users where email=").
		WithArgs("op@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "password_hash", "role", "factory_id", "active", "created_at", "updated_at",
		}).AddRow("u-1", "op@example.com", "hash", "factory_operator", "F1", true, now, now))

	u, err := store.FindUserByEmail(context.Background(), "op@example.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleFactoryOperator, u.Role)
	assert.Equal(t, "F1", u.FactoryID)
}

func TestAuditAppend(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`insert into audit_log`)).
		WithArgs("a-1", now, "resource", "PRODUCT_CREATED", "u-1", "F1", "product", "p-1", "req-1", []byte(`{"qr_code":"CS-123456"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Append(context.Background(), &audit.Entry{
		ID: "a-1", OccurredAt: now, EventType: "resource", EventName: "PRODUCT_CREATED",
		ActorID: "u-1", FactoryID: "F1", ResourceType: "product", ResourceID: "p-1",
		RequestID: "req-1", Metadata: map[string]string{"qr_code": "CS-123456"},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchRoundTripsJSON(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .+ from batch_operations where id=").
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "factory_id", "type", "status", "items", "item_count",
			"succeeded", "failed", "item_errors", "created_by", "created_at", "updated_at",
		}).AddRow("b-1", "F1", "create_products", "pending",
			[]byte(`[{"product_name":"Widget","product_type":"T"}]`), 1,
			0, 0, []byte(`[]`), "u-1", now, now))

	b, err := store.GetBatch(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, product.BatchCreateProducts, b.Type)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Widget", b.Items[0]["product_name"])
	assert.Empty(t, b.ItemErrors)
}
