package pg

import (
	"context"
	"database/sql"
	"errors"

	"certiscan.io/internal/product"
)

func (s *Store) InsertFactory(ctx context.Context, f *product.Factory) error {
	_, err := s.db.ExecContext(ctx, `
		insert into factories(id, name, address, active, created_at, updated_at)
		values ($1, $2, nullif($3,''), $4, $5, $6)
	`, f.ID, f.Name, f.Address, f.Active, f.CreatedAt, f.UpdatedAt)
	return err
}

func (s *Store) GetFactory(ctx context.Context, id string) (product.Factory, error) {
	var f product.Factory
	err := s.db.QueryRowContext(ctx, `
		select id, name, coalesce(address,''), active, created_at, updated_at
		from factories where id=$1
	`, id).Scan(&f.ID, &f.Name, &f.Address, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Factory{}, product.ErrNotFound
	}
	if err != nil {
		return product.Factory{}, err
	}
	return f, nil
}

func (s *Store) ListFactories(ctx context.Context) ([]product.Factory, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(address,''), active, created_at, updated_at
		from factories order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []product.Factory{}
	for rows.Next() {
		var f product.Factory
		if err := rows.Scan(&f.ID, &f.Name, &f.Address, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpdateFactory(ctx context.Context, f *product.Factory) error {
	res, err := s.db.ExecContext(ctx, `
		update factories set name=$2, address=nullif($3,''), active=$4, updated_at=now()
		where id=$1
	`, f.ID, f.Name, f.Address, f.Active)
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
