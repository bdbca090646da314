package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var recordColumns = []string{
	"id", "fei_number", "record_date", "name", "firebase_url", "pdf_file_name", "inspection_number",
	"content_hash", "summary", "category", "cfr_number", "observations", "repeat_finding", "unique_key", "created_at",
}

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRecordStore(mock, "inspections")
	require.NoError(t, err)
	return store, mock
}

func TestNewRecordStoreValidatesTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStore(mock, "bad;table")
	require.Error(t, err)
	_, err = NewRecordStore(nil, "")
	require.Error(t, err)

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "inspections", store.table)
}

func TestUpsertWritesOneTransaction(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rec := inspection.NormalizedRecord{
		ID:           "rec-1",
		SourceID:     inspection.Int64(100),
		Date:         "01/02/2025",
		Name:         "Acme",
		DocumentURL:  "https://storage.googleapis.com/b/a.pdf",
		PDFFileName:  "Acme_100.pdf",
		Observations: []inspection.Observation{{Summary: "x", Category: "Poor Documentation", CFRNumber: "§211.22"}},
		UniqueKey:    "100_01/02/2025_Acme",
		CreatedAt:    now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inspections").
		WithArgs(
			rec.ID,
			rec.SourceID,
			rec.Date,
			rec.Name,
			rec.DocumentURL,
			rec.PDFFileName,
			"",
			"",
			"",
			"",
			"",
			[]byte(`[{"summary":"x","category":"Poor Documentation","cfrNumber":"§211.22"}]`),
			[]byte(`[]`),
			rec.UniqueKey,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Upsert(context.Background(), []inspection.NormalizedRecord{rec}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	recs := []inspection.NormalizedRecord{{ID: "a"}, {ID: "b"}}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inspections").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inspections").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Upsert(context.Background(), recs)
	var pe *inspection.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "upsert", pe.Op)
	assert.Equal(t, 2, pe.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	require.NoError(t, store.Upsert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchDeleteSingleStatement(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	ids := []string{"b", "c"}
	mock.ExpectExec("DELETE FROM inspections").WithArgs(ids).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	require.NoError(t, store.BatchDelete(context.Background(), ids))

	mock.ExpectExec("DELETE FROM inspections").WithArgs(ids).WillReturnError(errors.New("conn reset"))
	err := store.BatchDelete(context.Background(), ids)
	var pe *inspection.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "delete", pe.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTagUniqueKeysRollsBackOnMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inspections SET unique_key").WithArgs("k1", "a").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE inspections SET unique_key").WithArgs("k2", "zzz").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.TagUniqueKeys(context.Background(), []inspection.KeyTag{{ID: "a", UniqueKey: "k1"}, {ID: "zzz", UniqueKey: "k2"}})
	require.ErrorIs(t, err, inspection.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySourceIDsScansRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(recordColumns).
		AddRow("a", int64(100), "01/02/2025", "Acme", "u", "f.pdf", "100", "h", "s", "Lack of Training", "§211.25",
			[]byte(`[{"summary":"x","category":"Lack of Training","cfrNumber":"§211.25"}]`), []byte(`["repeated"]`), "k", created).
		AddRow("b", nil, "01/03/2025", "Beta", "", "", "", "", "", "", "", []byte(`[]`), []byte(`[]`), "", created)

	mock.ExpectQuery("FROM inspections").WithArgs([]int64{100}).WillReturnRows(rows)

	got, err := store.ListBySourceIDs(context.Background(), []int64{100})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].SourceID)
	assert.EqualValues(t, 100, *got[0].SourceID)
	assert.Equal(t, []string{"repeated"}, got[0].RepeatFindings)
	assert.Equal(t, "§211.25", got[0].Observations[0].CFRNumber)
	assert.Nil(t, got[1].SourceID)
	assert.Empty(t, got[1].Observations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySourceIDsEmpty(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	got, err := store.ListBySourceIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDateRangePassesBounds(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ("+recordDateExpr+") BETWEEN $1::date AND $2::date")).
		WithArgs(start, end).
		WillReturnRows(pgxmock.NewRows(recordColumns))

	got, err := store.ListByDateRange(context.Background(), start, end)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDateExprGuardsBothLayouts(t *testing.T) {
	t.Parallel()
	assert.True(t, strings.HasPrefix(recordDateExpr, "CASE"))
	assert.Contains(t, recordDateExpr, "to_date(record_date, 'MM/DD/YYYY')")
	assert.Contains(t, recordDateExpr, "to_date(record_date, 'YYYY-MM-DD')")
	assert.NotContains(t, recordDateExpr, "ELSE")
}

func TestListAllQueryError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM inspections").WillReturnError(errors.New("boom"))
	_, err := store.ListAll(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inspections").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
