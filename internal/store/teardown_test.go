package store

import (
	"errors"
	"testing"

	"familybook/internal/apperr"
	"familybook/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockQuery        = `SELECT \* FROM "groups" WHERE id = \$1 .*FOR UPDATE`
	outstandingQuery = `SELECT count\(\*\) FROM "books" JOIN issues ON issues.id = books.issue_id WHERE issues.group_id = \$1`
)

func expectOutstanding(mock sqlmock.Sqlmock, n int64) {
	mock.ExpectQuery(outstandingQuery).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

var deletionOrder = []string{
	`DELETE FROM "payments" WHERE subscription_id IN \(SELECT "id" FROM "subscriptions" WHERE group_id = \$1\)`,
	`DELETE FROM "subscriptions" WHERE group_id = \$1`,
	`DELETE FROM "posts" WHERE issue_id IN \(SELECT "id" FROM "issues" WHERE group_id = \$1\)`,
	`DELETE FROM "books" WHERE issue_id IN \(SELECT "id" FROM "issues" WHERE group_id = \$1\)`,
	`DELETE FROM "issues" WHERE group_id = \$1`,
	`DELETE FROM "members" WHERE group_id = \$1`,
	`DELETE FROM "recipients" WHERE group_id = \$1`,
	`DELETE FROM "groups" WHERE id = \$1`,
}

func TestDeleteGroupTreeOrder(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	groupID := "3f1c1c9e-7d2a-4b8e-9a55-2f0d3c1b7a10"

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(groupID, "family"))
	expectOutstanding(mock, 0)
	for i, q := range deletionOrder {
		mock.ExpectExec(q).WithArgs(groupID).WillReturnResult(sqlmock.NewResult(0, int64(i+1)))
	}
	mock.ExpectCommit()

	counts, err := DeleteGroupTree(db, groupID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Payments)
	assert.Equal(t, int64(8), counts.Groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupTreeRollsBackOnFailure(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	groupID := "3f1c1c9e-7d2a-4b8e-9a55-2f0d3c1b7a10"

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(groupID, "family"))
	expectOutstanding(mock, 1)
	for _, q := range deletionOrder[:3] {
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(deletionOrder[3]).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	counts, err := DeleteGroupTree(db, groupID, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete books")
	assert.Equal(t, DeletionCounts{}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupTreeMissingGroup(t *testing.T) {
	db, mock := testutil.NewMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := DeleteGroupTree(db, "missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupTreeRechecksOutstandingBooksUnderLock(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	groupID := "3f1c1c9e-7d2a-4b8e-9a55-2f0d3c1b7a10"

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(groupID, "family"))
	expectOutstanding(mock, 2)
	mock.ExpectRollback()

	counts, err := DeleteGroupTree(db, groupID, false)
	require.Error(t, err)
	assert.Equal(t, "books_in_progress", apperr.CodeOf(err))
	assert.Equal(t, int64(2), counts.OutstandingBooks)
	assert.Zero(t, counts.Groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}
