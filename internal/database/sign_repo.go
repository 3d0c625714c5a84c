package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kdimtricp/signassist/internal/models"
)

var ErrSignNotFound = errors.New("sign not found")

// SignRepository stores the reference catalog: detector class code to
// Vietnamese display name and meaning.
type SignRepository struct {
	db *DB
}

func NewSignRepository(db *DB) *SignRepository {
	return &SignRepository{db: db}
}

func (r *SignRepository) Upsert(ctx context.Context, sign models.SignInfo) error {
	if sign.Code == "" {
		return fmt.Errorf("sign code is required")
	}

	query := r.db.rebind(`
		INSERT INTO signs (code, name, meaning, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name,
			meaning = excluded.meaning,
			updated_at = CURRENT_TIMESTAMP`)

	if _, err := r.db.conn.ExecContext(ctx, query, sign.Code, sign.Name, sign.Meaning); err != nil {
		return fmt.Errorf("failed to upsert sign %s: %w", sign.Code, err)
	}
	return nil
}

func (r *SignRepository) GetByCode(ctx context.Context, code string) (models.SignInfo, error) {
	query := r.db.rebind(`SELECT code, name, meaning FROM signs WHERE code = ?`)

	var sign models.SignInfo
	err := r.db.conn.QueryRowContext(ctx, query, code).Scan(&sign.Code, &sign.Name, &sign.Meaning)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SignInfo{}, fmt.Errorf("%w: %s", ErrSignNotFound, code)
	}
	if err != nil {
		return models.SignInfo{}, fmt.Errorf("failed to get sign: %w", err)
	}
	return sign, nil
}

func (r *SignRepository) List(ctx context.Context) ([]models.SignInfo, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT code, name, meaning FROM signs ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signs: %w", err)
	}
	defer rows.Close()

	signs := []models.SignInfo{}
	for rows.Next() {
		var s models.SignInfo
		if err := rows.Scan(&s.Code, &s.Name, &s.Meaning); err != nil {
			return nil, fmt.Errorf("failed to scan sign: %w", err)
		}
		signs = append(signs, s)
	}
	return signs, rows.Err()
}

func (r *SignRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM signs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signs: %w", err)
	}
	return n, nil
}
