package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"certiscan.io/internal/product"
)

const productColumns = `id, coalesce(qr_code,''), factory_id, name, type, coalesce(description,''), status, created_by, scan_count, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.QRCode, &p.FactoryID, &p.Name, &p.Type, &p.Description,
		&p.Status, &p.CreatedBy, &p.ScanCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Product{}, product.ErrNotFound
	}
	if err != nil {
		return product.Product{}, err
	}
	return p, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from products where qr_code=$1)`, code).Scan(&exists)
	return exists, err
}

func (s *Store) InsertProduct(ctx context.Context, p *product.Product) error {
	_, err := s.db.ExecContext(ctx, `
		insert into products(id, qr_code, factory_id, name, type, description, status, created_by, scan_count, created_at, updated_at)
		values ($1, nullif($2,''), $3, $4, $5, nullif($6,''), $7, $8, 0, $9, $10)
	`, p.ID, p.QRCode, p.FactoryID, p.Name, p.Type, p.Description, p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err, "products_qr_code_key") {
		return product.ErrCodeTaken
	}
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+productColumns+` from products where id=$1`, id)
	return scanProduct(row)
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+productColumns+` from products where qr_code=$1`, code)
	return scanProduct(row)
}

func (s *Store) ListProducts(ctx context.Context, filter product.ListFilter) (product.Page, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	where := "where ($1 = '' or factory_id = $1) and ($2 = '' or status = $2)"
	args := []any{filter.FactoryID, string(filter.Status)}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from products `+where, args...).Scan(&total); err != nil {
		return product.Page{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select `+productColumns+` from products `+where+`
		order by created_at desc, id
		limit $3 offset $4
	`, append(args, limit, offset)...)
	if err != nil {
		return product.Page{}, err
	}
	defer rows.Close()

	items := []product.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return product.Page{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return product.Page{}, err
	}
	return product.Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Store) UpdateProductStatus(ctx context.Context, id string, from, to product.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update products set status=$3, updated_at=now() where id=$1 and status=$2
	`, id, from, to)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or the status moved underneath us.
		if _, err := s.GetProduct(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: status changed concurrently", product.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) UpdateProductName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`update products set name=$2, updated_at=now() where id=$1`, id, name)
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

func (s *Store) AssignCode(ctx context.Context, id, code string) error {
	res, err := s.db.ExecContext(ctx, `
		update products set qr_code=$2, updated_at=now() where id=$1 and qr_code is null
	`, id, code)
	if isUniqueViolation(err, "products_qr_code_key") {
		return product.ErrCodeTaken
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: product already has code %s", product.ErrInvalidInput, p.QRCode)
	}
	return nil
}

func (s *Store) RecordScan(ctx context.Context, code string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		update products set scan_count = scan_count + 1
		where qr_code=$1
		returning `+productColumns+`
	`, code)
	return scanProduct(row)
}
