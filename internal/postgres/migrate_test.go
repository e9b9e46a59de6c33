package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	t.Run("applies schema", func(t *testing.T) {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))

		assert.NoError(t, Migrate(context.Background(), mock))
	})

	t.Run("wraps failure", func(t *testing.T) {
		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		err := Migrate(context.Background(), mock)
		assert.ErrorContains(t, err, "apply schema")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
