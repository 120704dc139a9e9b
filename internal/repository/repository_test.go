// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
	"points-lottery/internal/pkg/testdb"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	return testdb.NewPostgres(t)
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_Create(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, 12345, "testuser", 1000)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(12345), user.UID)
	assert.Equal(t, "testuser", user.Username)
	assert.Equal(t, int64(1000), user.Balance)
	assert.False(t, user.CreatedAt.IsZero())

	// Second insert of the same uid is a no-op
	user, err = repo.Create(ctx, 12345, "other", 5)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRepository_GetByID(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 12345, "testuser", 1000)
	require.NoError(t, err)

	user, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), user.UID)
	assert.Equal(t, "testuser", user.Username)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, 12345, "testuser", 250)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(250), user.Balance)

	user, created, err = repo.GetOrCreate(ctx, 12345, "testuser", 999)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(250), user.Balance)
}

func TestUserRepository_DebitCredit(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "alice", 250)
	require.NoError(t, err)

	user, err := repo.Debit(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(150), user.Balance)

	user, err = repo.Debit(ctx, 1, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.Balance)

	_, err = repo.Debit(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = repo.Debit(ctx, 99999, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err = repo.Credit(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), user.Balance)

	_, err = repo.Credit(ctx, 99999, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_UpdateUsername(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 12345, "oldname", 0)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUsername(ctx, 12345, "newname"))

	user, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, "newname", user.Username)

	err = repo.UpdateUsername(ctx, 99999, "x")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_Exists(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	exists, err := repo.Exists(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Create(ctx, 12345, "testuser", 0)
	require.NoError(t, err)

	exists, err = repo.Exists(ctx, 12345)
	require.NoError(t, err)
	assert.True(t, exists)
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func TestTransactionRepository_Create(t *testing.T) {
	pool := setupTestDB(t)
	users := NewUserRepository(pool)
	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", 0)
	require.NoError(t, err)

	desc := "lottery ticket"
	tx, err := repo.Create(ctx, model.Transaction{
		UserID:       1,
		Amount:       -100,
		Type:         model.TxTypeLotteryTicket,
		Category:     model.CategoryCharge,
		PrimaryRef:   7,
		SecondaryRef: 3,
		Description:  &desc,
	})
	require.NoError(t, err)
	assert.NotZero(t, tx.ID)
	assert.Equal(t, int64(-100), tx.Amount)
	assert.Equal(t, model.CategoryCharge, tx.Category)
	assert.Equal(t, int64(7), tx.PrimaryRef)
	assert.Equal(t, int64(3), tx.SecondaryRef)
	require.NotNil(t, tx.Description)
	assert.Equal(t, desc, *tx.Description)

	list, err := repo.GetByUserID(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tx.ID, list[0].ID)

	sum, err := repo.SumByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), sum)
}

func TestTransactionRepository_RecentWinners(t *testing.T) {
	pool := setupTestDB(t)
	users := NewUserRepository(pool)
	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	last, err := repo.LastWinner(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = users.Create(ctx, 1, "alice", 0)
	require.NoError(t, err)
	_, err = users.Create(ctx, 2, "bob", 0)
	require.NoError(t, err)

	// Ticket charges must not show up as winners
	_, err = repo.Create(ctx, model.Transaction{UserID: 1, Amount: -100, Type: model.TxTypeLotteryTicket, Category: model.CategoryCharge})
	require.NoError(t, err)

	for i, uid := range []int64{1, 2, 1} {
		_, err = repo.Create(ctx, model.Transaction{
			UserID:       uid,
			Amount:       1000 + int64(i),
			Type:         model.TxTypeLotteryWinner,
			Category:     model.CategoryIncome,
			PrimaryRef:   int64(10 + i),
			SecondaryRef: int64(i + 1),
		})
		require.NoError(t, err)
	}

	winners, err := repo.RecentWinners(ctx, 2)
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, "alice", winners[0].Username)
	assert.Equal(t, int64(1002), winners[0].Amount)
	assert.Equal(t, int64(12), winners[0].TicketID)
	assert.Equal(t, int64(3), winners[0].TermID)
	assert.Equal(t, "bob", winners[1].Username)

	last, err = repo.LastWinner(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(1), last.UID)
}

// ============================================================================
// TermRepository / TicketRepository Tests
// ============================================================================

func TestTermRepository_SingleOpenTerm(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewTermRepository(pool)
	ctx := context.Background()

	_, err := repo.GetOpen(ctx)
	assert.ErrorIs(t, err, ErrTermNotFound)

	term, err := repo.CreateOpen(ctx, 1000)
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.True(t, term.IsOpen())
	assert.Equal(t, int64(1000), term.StartTime)
	assert.Zero(t, term.TicketCount)

	// The partial unique index rejects a second open term
	dup, err := repo.CreateOpen(ctx, 2000)
	require.NoError(t, err)
	assert.Nil(t, dup)

	open, err := repo.GetOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, term.TermID, open.TermID)

	closed, err := repo.Close(ctx, term.TermID, 0, 0, 0, 5000)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())

	// Closing twice finds nothing to close
	_, err = repo.Close(ctx, term.TermID, 1, 1, 1, 6000)
	assert.ErrorIs(t, err, ErrTermNotFound)

	next, err := repo.CreateOpen(ctx, 7000)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Greater(t, next.TermID, term.TermID)

	byID, err := repo.GetByID(ctx, term.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), byID.EndTime)
}

func TestTermRepository_AddTicket(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewTermRepository(pool)
	ctx := context.Background()

	term, err := repo.CreateOpen(ctx, 0)
	require.NoError(t, err)

	term, err = repo.AddTicket(ctx, term.TermID, 100)
	require.NoError(t, err)
	term, err = repo.AddTicket(ctx, term.TermID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), term.TicketCount)
	assert.Equal(t, int64(100), term.Money)

	_, err = repo.Close(ctx, term.TermID, 0, 0, 0, 10)
	require.NoError(t, err)

	_, err = repo.AddTicket(ctx, term.TermID, 100)
	assert.ErrorIs(t, err, ErrTermNotFound)
}

func TestTermRepository_GetOpenForUpdateInTx(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewTermRepository(pool)
	ctx := context.Background()

	created, err := repo.CreateOpen(ctx, 0)
	require.NoError(t, err)

	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		term, err := repo.WithTx(tx).GetOpenForUpdate(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, created.TermID, term.TermID)
		return nil
	})
	require.NoError(t, err)
}

func TestTicketRepository(t *testing.T) {
	pool := setupTestDB(t)
	users := NewUserRepository(pool)
	terms := NewTermRepository(pool)
	repo := NewTicketRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", 0)
	require.NoError(t, err)
	_, err = users.Create(ctx, 2, "bob", 0)
	require.NoError(t, err)
	term, err := terms.CreateOpen(ctx, 0)
	require.NoError(t, err)

	_, err = repo.RandomForTerm(ctx, term.TermID)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	var ids []int64
	for _, uid := range []int64{1, 2, 1} {
		ticket, err := repo.Create(ctx, term.TermID, uid, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), ticket.Dateline)
		ids = append(ids, ticket.TicketID)
	}

	n, err := repo.CountByTerm(ctx, term.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mine, err := repo.ListByTermAndUser(ctx, term.TermID, 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, ids[0], mine[0].TicketID)
	assert.Equal(t, ids[2], mine[1].TicketID)

	picked, err := repo.RandomForTerm(ctx, term.TermID)
	require.NoError(t, err)
	assert.Contains(t, ids, picked.TicketID)
	assert.Equal(t, term.TermID, picked.TermID)

	// Ticket rows pin their owner so the stored count stays exact
	_, err = pool.Exec(ctx, `DELETE FROM users WHERE uid = 2`)
	assert.Error(t, err)
	n, err = repo.CountByTerm(ctx, term.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTransactionRepository_WinnersOutliveUser(t *testing.T) {
	pool := setupTestDB(t)
	users := NewUserRepository(pool)
	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 7, "carol", 0)
	require.NoError(t, err)
	_, err = repo.Create(ctx, model.Transaction{
		UserID:       7,
		Amount:       1300,
		Type:         model.TxTypeLotteryWinner,
		Category:     model.CategoryIncome,
		PrimaryRef:   3,
		SecondaryRef: 1,
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `DELETE FROM users WHERE uid = 7`)
	require.NoError(t, err)

	winners, err := repo.RecentWinners(ctx, 10)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, int64(7), winners[0].UID)
	assert.Empty(t, winners[0].Username)
	assert.Equal(t, int64(1300), winners[0].Amount)
}
