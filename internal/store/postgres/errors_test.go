package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/store"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "duplicate code",
			err:  &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: assetsCodeConstraint},
			want: store.ErrDuplicateCode,
		},
		{
			name: "missing asset for history",
			err:  &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			want: store.ErrAssetNotFound,
		},
		{
			name: "serialization failure",
			err:  &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			want: store.ErrConflict,
		},
		{
			name: "deadlock",
			err:  &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			want: store.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapPostgresError(tt.err), tt.want)
		})
	}

	t.Run("other unique constraint is not a duplicate code", func(t *testing.T) {
		err := mapPostgresError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "principals_pkey"})
		require.NotErrorIs(t, err, store.ErrDuplicateCode)
	})

	t.Run("non postgres errors pass through", func(t *testing.T) {
		plain := errors.New("boom")
		require.Equal(t, plain, mapPostgresError(plain))
		require.NoError(t, mapPostgresError(nil))
	})
}
