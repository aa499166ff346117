package documents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// recordingTx captures the SQL sent through pgTx. Methods it does not
// override panic through the nil embedded interface.
type recordingTx struct {
	pgx.Tx
	queries []string
	args    [][]any
	rowErr  error
}

func (tx *recordingTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	tx.queries = append(tx.queries, sql)
	tx.args = append(tx.args, args)
	return emptyRows{}, nil
}

func (tx *recordingTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	tx.queries = append(tx.queries, sql)
	tx.args = append(tx.args, args)
	return errRow{err: tx.rowErr}
}

type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool { return false }
func (emptyRows) Err() error { return nil }
func (emptyRows) Close()     {}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestLockDocumentsLocksInIDOrder(t *testing.T) {
	tx := &recordingTx{}
	repo := &pgTx{tx: tx}

	out, err := repo.LockDocuments(context.Background(), KindAPInvoice, []int64{9, 3})
	require.NoError(t, err)
	require.Empty(t, out)
	require.Len(t, tx.queries, 1)

	query := tx.queries[0]
	require.True(t, strings.HasSuffix(query, "FROM ap_invoices WHERE id = ANY($1) ORDER BY id FOR UPDATE"), query)
	require.Contains(t, query, "unpaid_amount")
	require.Equal(t, []any{[]int64{9, 3}}, tx.args[0])
}

func TestLockDocumentsSkipsEmptyBatch(t *testing.T) {
	tx := &recordingTx{}
	out, err := (&pgTx{tx: tx}).LockDocuments(context.Background(), KindARInvoice, nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, tx.queries)

	_, err = (&pgTx{tx: tx}).LockDocuments(context.Background(), Kind("nope"), []int64{1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateDocumentStaleVersionIsConflict(t *testing.T) {
	tx := &recordingTx{rowErr: pgx.ErrNoRows}
	repo := &pgTx{tx: tx}

	doc := validInvoice()
	doc.Version = 4
	_, err := repo.UpdateDocument(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotErrorIs(t, err, shared.ErrNotFound)

	require.Len(t, tx.queries, 1)
	require.Contains(t, tx.queries[0], "version = version + 1")
	args := tx.args[0]
	require.Equal(t, doc.ID, args[len(args)-2])
	require.Equal(t, doc.Version, args[len(args)-1])
}

func TestUpdateDocumentPassesThroughDriverErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := (&pgTx{tx: &recordingTx{rowErr: boom}}).UpdateDocument(context.Background(), validInvoice())
	require.ErrorIs(t, err, boom)
	require.Empty(t, shared.CodeOf(err))
}

func TestLockDocumentMissingRowIsNotFound(t *testing.T) {
	tx := &recordingTx{rowErr: pgx.ErrNoRows}
	_, err := (&pgTx{tx: tx}).LockDocument(context.Background(), KindAPPayment, 5)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.True(t, strings.HasSuffix(tx.queries[0], "FROM ap_payments WHERE id = $1 FOR UPDATE"), tx.queries[0])
}
