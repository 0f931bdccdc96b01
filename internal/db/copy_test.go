package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var riskCols = []string{"id", "title"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "risks", riskCols, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"risks"}, riskCols).WillReturnResult(3)

	rows := [][]any{{"r1", "x"}, {"r2", "y"}, {"r3", "z"}}
	n, err := CopyFrom(context.Background(), mock, "risks", riskCols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_ShortWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"risks"}, riskCols).WillReturnResult(1)

	rows := [][]any{{"r1", "x"}, {"r2", "y"}}
	n, err := CopyFrom(context.Background(), mock, "risks", riskCols, rows)
	require.Error(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, err.Error(), "wrote 1 of 2 rows")
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"risks"}, riskCols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "risks", riskCols, [][]any{{"r1", "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO risks")
	assert.NoError(t, mock.ExpectationsWereMet())
}
