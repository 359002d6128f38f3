package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"certiscan.io/internal/product"
)

// Batch items and item errors are stored as jsonb; the row layout mirrors the
// BatchOperation bookkeeping fields.

func (s *Store) InsertBatch(ctx context.Context, b *product.BatchOperation) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("marshal batch items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into batch_operations(id, factory_id, type, status, items, item_count, succeeded, failed, item_errors, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, 0, 0, '[]', $7, $8, $9)
	`, b.ID, b.FactoryID, b.Type, b.Status, items, b.ItemCount, b.CreatedBy, b.CreatedAt, b.UpdatedAt)
	return err
}

func (s *Store) GetBatch(ctx context.Context, id string) (product.BatchOperation, error) {
	var b product.BatchOperation
	var items, itemErrors []byte
	err := s.db.QueryRowContext(ctx, `
		select id, factory_id, type, status, items, item_count, succeeded, failed, item_errors, created_by, created_at, updated_at
		from batch_operations where id=$1
	`, id).Scan(&b.ID, &b.FactoryID, &b.Type, &b.Status, &items, &b.ItemCount,
		&b.Succeeded, &b.Failed, &itemErrors, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return product.BatchOperation{}, product.ErrNotFound
	}
	if err != nil {
		return product.BatchOperation{}, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return product.BatchOperation{}, fmt.Errorf("unmarshal batch items: %w", err)
	}
	if err := json.Unmarshal(itemErrors, &b.ItemErrors); err != nil {
		return product.BatchOperation{}, fmt.Errorf("unmarshal batch item errors: %w", err)
	}
	return b, nil
}

func (s *Store) ListBatchesByFactory(ctx context.Context, factoryID string) ([]product.BatchOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, factory_id, type, status, items, item_count, succeeded, failed, item_errors, created_by, created_at, updated_at
		from batch_operations
		where ($1 = '' or factory_id = $1)
		order by created_at desc
	`, factoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []product.BatchOperation{}
	for rows.Next() {
		var b product.BatchOperation
		var items, itemErrors []byte
		if err := rows.Scan(&b.ID, &b.FactoryID, &b.Type, &b.Status, &items, &b.ItemCount,
			&b.Succeeded, &b.Failed, &itemErrors, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, fmt.Errorf("unmarshal batch items: %w", err)
		}
		if err := json.Unmarshal(itemErrors, &b.ItemErrors); err != nil {
			return nil, fmt.Errorf("unmarshal batch item errors: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBatch(ctx context.Context, b *product.BatchOperation) error {
	itemErrors, err := json.Marshal(b.ItemErrors)
	if err != nil {
		return fmt.Errorf("marshal batch item errors: %w", err)
	}
	if b.ItemErrors == nil {
		itemErrors = []byte("[]")
	}
	res, err := s.db.ExecContext(ctx, `
		update batch_operations
		set status=$2, succeeded=$3, failed=$4, item_errors=$5, updated_at=now()
		where id=$1
	`, b.ID, b.Status, b.Succeeded, b.Failed, itemErrors)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}
