package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavorfind/internal/dsl"
	"flavorfind/internal/store"
)

var recordCols = []string{"id", "created_at", "updated_at", "data"}

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), mock
}

func TestInsertThenGet(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`insert into records (kind, id, created_at, updated_at, data)`)).
		WithArgs("MenuItem", "01HX", ts, ts, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`select id, created_at, updated_at, data from records where kind = $1 and id = $2`)).
		WithArgs("MenuItem", "01HX").
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("01HX", ts, ts, []byte(`{"name":"Pho","price":12}`)))

	err := repo.Insert(ctx, &store.Record{ID: "01HX", Kind: "MenuItem", CreatedAt: ts, UpdatedAt: ts, Data: map[string]any{"name": "Pho", "price": 12.0}})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, "MenuItem", "01HX")
	require.NoError(t, err)
	assert.Equal(t, "MenuItem", rec.Kind)
	assert.Equal(t, 12.0, rec.Data["price"])
	assert.Equal(t, ts, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingIsNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("select id").WithArgs("User", "x").WillReturnRows(sqlmock.NewRows(recordCols))

	_, err := repo.Get(context.Background(), "User", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("update records").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &store.Record{ID: "x", Kind: "User", Data: map[string]any{}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOrdersByID(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`where kind = $1 order by id`)).WithArgs("Restaurant").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("a", ts, ts, []byte(`{"name":"A"}`)).
			AddRow("b", ts, ts, []byte(`null`)))

	recs, err := repo.List(context.Background(), "Restaurant")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].Data["name"])
	assert.NotNil(t, recs[1].Data)
}

func TestDeleteRunsInOneTransaction(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from records").WithArgs("MenuItem", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from records").WithArgs("MenuItem", "b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "MenuItem", "a", "b"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRollsBackOnError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from records").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.Error(t, repo.Delete(context.Background(), "MenuItem", "a", "b"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicallySharesOneTransaction(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update records").WithArgs("MenuItem", "b", sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from records").WithArgs("MenuItem", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from records").WithArgs("Restaurant", "r").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err := repo.Atomically(ctx, func(tx store.Repository) error {
		if err := tx.Update(ctx, &store.Record{ID: "b", Kind: "MenuItem", Data: map[string]any{"restaurant": nil}}); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "MenuItem", "a"); err != nil {
			return err
		}
		return tx.Delete(ctx, "Restaurant", "r")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicallyRollsBackWhenAStepFails(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from records").WithArgs("MenuItem", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from records").WithArgs("Restaurant", "r").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	ctx := context.Background()
	err := repo.Atomically(ctx, func(tx store.Repository) error {
		if err := tx.Delete(ctx, "MenuItem", "a"); err != nil {
			return err
		}
		return tx.Delete(ctx, "Restaurant", "r")
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateDDL(t *testing.T) {
	schemas, err := dsl.Builtin()
	require.NoError(t, err)

	ddl, err := GenerateDDL(schemas)
	require.NoError(t, err)

	assert.Contains(t, ddl["000_records"], `create table if not exists "records"`)
	assert.Contains(t, ddl["100_user"], `create unique index if not exists "records_user_email_uq" on "records" ((lower("data"->>'email'))) where "kind" = 'User';`)
	assert.Contains(t, ddl["100_menuitem"], `"records_menuitem_restaurant_idx"`)
	assert.NotContains(t, ddl["100_menuitem"], "_name_")
}

func TestApplyDDLRunsInKeyOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("create table").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index").WillReturnResult(sqlmock.NewResult(0, 0))

	err = ApplyDDL(context.Background(), db, map[string]string{
		"100_b": "create index x on records (id);",
		"000_a": "create table records (id text);",
		"050_c": "   ",
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
