package postgres

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		code      string
		target    error
		retryable bool
	}{
		{"42501", domain.ErrPermissionDenied, false},
		{"28P01", domain.ErrPermissionDenied, false},
		{"22P02", domain.ErrMalformedCheckpoint, false},
		{"08006", nil, true},
		{"53300", nil, true},
		{"40001", nil, true},
		{"23505", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := translate(&pgconn.PgError{Code: tc.code, Message: "backend says no"})
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
			assert.Equal(t, tc.retryable, domain.IsRetryable(err))
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, translate(plain))
}

func TestMigrations_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_checkpoints.up.sql")
	assert.Contains(t, names, "000001_checkpoints.down.sql")
}

func TestDecode_Malformed(t *testing.T) {
	_, err := decode([]byte("{not json"))
	assert.ErrorIs(t, err, domain.ErrMalformedCheckpoint)
}
