package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewFromDB(db), mock
}

func TestCommitState_VersionMismatchRollsBack(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM bots WHERE id = \?`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(9)))
	mock.ExpectRollback()

	err := c.State().CommitState(context.Background(), domain.CycleCommit{BotID: 4, ExpectedVersion: 8})

	require.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitState_LostUpdateRollsBack(t *testing.T) {
	c, mock := newMock(t)
	bot := domain.Bot{ID: 4, CurrentCoin: "ETH"}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM bots`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE bots SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := c.State().CommitState(context.Background(), domain.CycleCommit{BotID: 4, ExpectedVersion: 2, Bot: &bot})

	require.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitState_SwapInsertFailureRollsBack(t *testing.T) {
	c, mock := newMock(t)
	now := time.Now()
	bot := domain.Bot{ID: 4, CurrentCoin: "ETH", ActiveTradeID: "t-9", LastCheckTime: &now}
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM bots`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE bots SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO price_observations`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO swap_events`).WillReturnError(boom)
	mock.ExpectRollback()

	err := c.State().CommitState(context.Background(), domain.CycleCommit{
		BotID:           4,
		ExpectedVersion: 2,
		Bot:             &bot,
		Observations:    []domain.PriceObservation{{BotID: 4, Asset: "ETH", Price: 10, ObservedAt: now}},
		NewSwap:         &domain.SwapEvent{BotID: 4, TradeID: "t-9", Status: domain.SwapStatusPending, CreatedAt: now},
	})

	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitState_MissingBot(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM bots`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	err := c.State().CommitState(context.Background(), domain.CycleCommit{BotID: 1})

	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
