package memstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop()), mock
}

var memoryColumns = []string{"id", "text", "tags", "source_app", "session_id", "status", "created_at", "updated_at"}

func TestInsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memories")).
		WithArgs("id-1", "remember this", "[]", "cli", "sess-1", StatusRaw, int64(1000), int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Insert(context.Background(), &Memory{
		ID: "id-1", Text: "remember this", Tags: "[]",
		SourceApp: "cli", SessionID: "sess-1",
		Status: StatusRaw, CreatedAt: 1000, UpdatedAt: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateKeyTreatedAsSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memories")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Insert(context.Background(), &Memory{ID: "id-1", Text: "again", Tags: "[]", Status: StatusRaw})
	assert.NoError(t, err, "redelivered insert must converge")
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, tags")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(memoryColumns))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, tags")).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows(memoryColumns).
			AddRow("id-1", "espresso notes", `["coffee"]`, "cli", "s1", StatusRaw, int64(500), int64(500)))

	m, err := s.Get(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "espresso notes", m.Text)
	assert.Equal(t, []string{"coffee"}, m.TagList())
}

func TestGetByIDsEmptyInputSkipsQuery(t *testing.T) {
	s, _ := newMockStore(t)

	out, err := s.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestListRawCandidates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM memories WHERE status =")).
		WithArgs(StatusRaw, 20).
		WillReturnRows(sqlmock.NewRows(memoryColumns).
			AddRow("a", "one", "[]", "", "", StatusRaw, int64(1), int64(1)).
			AddRow("b", "two", "[]", "", "", StatusRaw, int64(2), int64(2)))

	out, err := s.ListRawCandidates(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
}

func TestMarkProcessed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE memories SET status =")).
		WithArgs(StatusProcessed, int64(9000), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkProcessed(context.Background(), "id-1", 9000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConsolidated(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE memories SET text =")).
		WithArgs("merged text", StatusConsolidated, int64(9000), "anchor").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateConsolidated(context.Background(), "anchor", "merged text", 9000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM memories")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.DeleteByIDs(context.Background(), []string{"d1", "d2"}))
	require.NoError(t, s.DeleteByIDs(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializeTags(t *testing.T) {
	assert.Equal(t, "[]", SerializeTags(nil))
	assert.Equal(t, `["a","b"]`, SerializeTags([]string{"a", "b"}))
}
