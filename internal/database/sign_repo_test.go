package database

import (
	"context"
	"testing"

	"github.com/kdimtricp/signassist/internal/models"
	"github.com/stretchr/testify/require"
)

func exerciseSignRepository(t *testing.T, db *DB) {
	ctx := context.Background()
	repo := NewSignRepository(db)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = repo.GetByCode(ctx, "P.102")
	require.ErrorIs(t, err, ErrSignNotFound)

	require.NoError(t, repo.Upsert(ctx, models.SignInfo{Code: "P.102", Name: "Cấm đi ngược chiều", Meaning: "cũ"}))
	require.NoError(t, repo.Upsert(ctx, models.SignInfo{Code: "W.207a", Name: "Giao nhau", Meaning: "Nơi giao nhau"}))
	require.NoError(t, repo.Upsert(ctx, models.SignInfo{Code: "P.102", Name: "Cấm đi ngược chiều", Meaning: "Cấm các loại xe đi vào"}))

	got, err := repo.GetByCode(ctx, "P.102")
	require.NoError(t, err)
	require.Equal(t, "Cấm các loại xe đi vào", got.Meaning)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "P.102", all[0].Code)

	n, err = repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Error(t, repo.Upsert(ctx, models.SignInfo{Name: "no code"}))
}

func TestSignRepositorySQLite(t *testing.T) {
	exerciseSignRepository(t, setupSQLiteDB(t))
}

func TestSignRepositoryPostgres(t *testing.T) {
	exerciseSignRepository(t, setupPostgresDB(t))
}

func TestRebind(t *testing.T) {
	pg := &DB{dbType: "postgres"}
	require.Equal(t, "SELECT * FROM signs WHERE code = $1 AND name = $2", pg.rebind("SELECT * FROM signs WHERE code = ? AND name = ?"))

	lite := &DB{dbType: "sqlite"}
	require.Equal(t, "code = ?", lite.rebind("code = ?"))
}
