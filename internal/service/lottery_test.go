package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"points-lottery/internal/config"
	"points-lottery/internal/model"
	"points-lottery/internal/pkg/cache"
	"points-lottery/internal/pkg/lock"
	"points-lottery/internal/pkg/testdb"
	"points-lottery/internal/repository"
)

// testClock is a settable clock shared by every service of a testEnv.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	pool    *pgxpool.Pool
	clock   *testClock
	cache   *cache.MemoryStore
	users   *repository.UserRepository
	terms   *repository.TermRepository
	tickets *repository.TicketRepository
	txs     *repository.TransactionRepository
	manager *TermManager
	seller  *TicketSeller
	draw    *DrawTask
	lottery *LotteryService
	cfg     config.LotteryConfig
}

func testConfig() config.LotteryConfig {
	return config.LotteryConfig{
		TicketPrice:    100,
		DrawFrequency:  7 * 24 * time.Hour,
		Prize:          1000,
		Rest:           2 * time.Hour,
		UsePot:         true,
		LastWinners:    10,
		DrawSchedule:   "@every 1h",
		DateFormat:     "2006-01-02",
		InitialBalance: 1000,
	}
}

func newTestEnv(t *testing.T, cfg config.LotteryConfig) *testEnv {
	pool := testdb.NewPostgres(t)

	env := &testEnv{
		pool:    pool,
		clock:   &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		cache:   cache.NewMemoryStore(0),
		users:   repository.NewUserRepository(pool),
		terms:   repository.NewTermRepository(pool),
		tickets: repository.NewTicketRepository(pool),
		txs:     repository.NewTransactionRepository(pool),
		cfg:     cfg,
	}

	accounts := NewAccountService(pool, env.users, env.txs, cfg.InitialBalance)
	env.manager = NewTermManager(env.terms, env.cache, cfg)
	env.manager.now = env.clock.Now
	env.seller = NewTicketSeller(pool, env.users, env.terms, env.tickets, env.txs, env.cache, lock.NewUserLock(), cfg)
	env.seller.now = env.clock.Now
	env.draw = NewDrawTask(pool, env.users, env.terms, env.tickets, env.txs, env.cache, cfg)
	env.draw.now = env.clock.Now
	stats := NewStatsRenderer(env.txs, cfg)
	env.lottery = NewLotteryService(accounts, env.manager, env.seller, env.draw, stats, env.tickets, env.txs, cfg)
	env.lottery.now = env.clock.Now

	return env
}

// openTerm creates the first term and moves the clock into its buying window.
func (e *testEnv) openTerm(t *testing.T) model.TermSnapshot {
	snap, err := e.manager.Current(context.Background())
	require.NoError(t, err)
	e.clock.Advance(e.cfg.Rest)
	return snap
}

func (e *testEnv) addUser(t *testing.T, uid, balance int64) {
	_, err := e.users.Create(context.Background(), uid, "user", balance)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, uid int64) int64 {
	u, err := e.users.GetByID(context.Background(), uid)
	require.NoError(t, err)
	return u.Balance
}

func TestTermManager_CreatesSingleOpenTerm(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	snap, err := env.manager.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(2*time.Hour).Unix(), snap.StartTime)
	assert.Zero(t, snap.TicketCount)

	phase, remaining := env.manager.Phase(snap, env.clock.Now())
	assert.Equal(t, PhaseRest, phase)
	assert.Equal(t, int64(7200), remaining)

	// A cold cache and concurrent callers still end up with one term
	require.NoError(t, env.cache.Reset(ctx))
	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := env.manager.Current(ctx)
			assert.NoError(t, err)
			ids[i] = s.TermID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, snap.TermID, id)
	}

	var open int
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lottery_terms WHERE end_time = 0`).Scan(&open))
	assert.Equal(t, 1, open)
}

func TestTicketSeller_BalanceScenario(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	env.addUser(t, 1, 250)
	snap := env.openTerm(t)

	res, err := env.seller.Buy(ctx, 1, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Balance)
	assert.Equal(t, int64(1), res.Term.TicketCount)

	res, err = env.seller.Buy(ctx, 1, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Balance)

	_, err = env.seller.Buy(ctx, 1, snap.TermID)
	assert.ErrorIs(t, err, ErrNotEnoughMoney)
	assert.Equal(t, int64(50), env.balance(t, 1))

	count, err := env.tickets.CountByTerm(ctx, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	term, err := env.terms.GetByID(ctx, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), term.TicketCount)
	assert.Equal(t, int64(200), term.Money)

	cached, ok, err := env.cache.Term(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), cached.TicketCount)
	pot, ok, err := env.cache.Pot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), pot)

	// Audit entries carry the ticket and term ids
	entries, err := env.txs.GetByUserID(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, model.TxTypeLotteryTicket, e.Type)
		assert.Equal(t, model.CategoryCharge, e.Category)
		assert.Equal(t, int64(-100), e.Amount)
		assert.Equal(t, snap.TermID, e.SecondaryRef)
		assert.NotZero(t, e.PrimaryRef)
	}
}

func TestTicketSeller_RejectsOutsideWindow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	env.addUser(t, 1, 1000)

	// Rest period before the window opens
	snap, err := env.manager.Current(ctx)
	require.NoError(t, err)
	_, err = env.seller.Buy(ctx, 1, snap.TermID)
	assert.ErrorIs(t, err, ErrRestTime)

	// Window elapsed but not drawn yet
	env.clock.Advance(env.cfg.Rest + env.cfg.DrawFrequency)
	_, err = env.seller.Buy(ctx, 1, snap.TermID)
	assert.ErrorIs(t, err, ErrRestTime)

	assert.Equal(t, int64(1000), env.balance(t, 1))
	count, err := env.tickets.CountByTerm(ctx, snap.TermID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTicketSeller_StaleTerm(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.addUser(t, 1, 1000)
	snap := env.openTerm(t)

	_, err := env.seller.Buy(context.Background(), 1, snap.TermID+100)
	assert.ErrorIs(t, err, ErrTermChanged)
	assert.Equal(t, int64(1000), env.balance(t, 1))
}

func TestTicketSeller_ConcurrentPurchasesKeepCount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	snap := env.openTerm(t)

	const users, perUser = 5, 4
	for uid := int64(1); uid <= users; uid++ {
		// Enough for three tickets only, so some purchases must fail
		env.addUser(t, uid, 300)
	}

	var wg sync.WaitGroup
	for uid := int64(1); uid <= users; uid++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(uid int64) {
				defer wg.Done()
				_, _ = env.seller.Buy(ctx, uid, snap.TermID)
			}(uid)
		}
	}
	wg.Wait()

	term, err := env.terms.GetByID(ctx, snap.TermID)
	require.NoError(t, err)
	count, err := env.tickets.CountByTerm(ctx, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, count, term.TicketCount)
	assert.Equal(t, int64(users*3), count)
	assert.Equal(t, count*env.cfg.TicketPrice, term.Money)

	for uid := int64(1); uid <= users; uid++ {
		assert.Equal(t, int64(0), env.balance(t, uid))
	}
}

func TestDrawTask_NotDue(t *testing.T) {
	env := newTestEnv(t, testConfig())
	snap := env.openTerm(t)

	res, err := env.draw.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.False(t, res.Skipped)
	assert.Equal(t, snap.TermID, res.Next.TermID)
}

func TestDrawTask_EmptyTerm(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	snap := env.openTerm(t)
	env.clock.Advance(env.cfg.DrawFrequency)

	res, err := env.draw.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Due)
	assert.Nil(t, res.Winner)

	closed, err := env.terms.GetByID(ctx, snap.TermID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Zero(t, closed.Money)
	assert.Zero(t, closed.WinnerUID)

	next, err := env.terms.GetOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, next.TicketCount)
	assert.Equal(t, env.clock.Now().Add(env.cfg.Rest).Unix(), next.StartTime)

	cached, ok, err := env.cache.Term(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, next.TermID, cached.TermID)
}

func TestDrawTask_PaysOneWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	snap := env.openTerm(t)

	for uid := int64(1); uid <= 3; uid++ {
		env.addUser(t, uid, 100)
		_, err := env.seller.Buy(ctx, uid, snap.TermID)
		require.NoError(t, err)
	}
	env.clock.Advance(env.cfg.DrawFrequency)

	res, err := env.draw.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Due)
	require.NotNil(t, res.Winner)
	assert.Equal(t, int64(1000+300), res.Payout)

	var winners int
	for uid := int64(1); uid <= 3; uid++ {
		switch env.balance(t, uid) {
		case 1300:
			winners++
			assert.Equal(t, res.Winner.UID, uid)
		case 0:
		default:
			t.Fatalf("unexpected balance for %d", uid)
		}
	}
	assert.Equal(t, 1, winners)

	closed, err := env.terms.GetByID(ctx, snap.TermID)
	require.NoError(t, err)
	assert.Equal(t, res.Winner.UID, closed.WinnerUID)
	assert.Equal(t, res.Winner.TicketID, closed.WinnerTicketNumber)
	assert.Equal(t, int64(1300), closed.Money)
	assert.Equal(t, env.clock.Now().Unix(), closed.EndTime)

	pot, ok, err := env.cache.Pot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, pot)

	last, err := env.txs.LastWinner(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, res.Winner.TicketID, last.TicketID)
	assert.Equal(t, snap.TermID, last.TermID)
	assert.Equal(t, int64(1300), last.Amount)
}

func TestDrawTask_PotDisabledPaysPrize(t *testing.T) {
	cfg := testConfig()
	cfg.UsePot = false
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	snap := env.openTerm(t)

	env.addUser(t, 1, 500)
	for i := 0; i < 5; i++ {
		_, err := env.seller.Buy(ctx, 1, snap.TermID)
		require.NoError(t, err)
	}
	env.clock.Advance(cfg.DrawFrequency)

	res, err := env.draw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Payout)
	assert.Equal(t, int64(1000), env.balance(t, 1))
}

func TestDrawTask_RepeatedRunsPayOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	snap := env.openTerm(t)

	env.addUser(t, 1, 100)
	_, err := env.seller.Buy(ctx, 1, snap.TermID)
	require.NoError(t, err)
	env.clock.Advance(env.cfg.DrawFrequency)

	var wg sync.WaitGroup
	results := make([]*DrawResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.draw.Run(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	res, err := env.draw.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Due)

	var paid int
	for _, r := range append(results, res) {
		if r != nil && r.Winner != nil {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, int64(1100), env.balance(t, 1))

	winners, err := env.txs.RecentWinners(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, winners, 1)
}

func TestLotteryService_View(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	accounts := env.lottery.Accounts()

	user, created, err := accounts.EnsureUser(ctx, 42, "carol")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1000), user.Balance)

	_, err = env.lottery.View(ctx, 999)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	view, err := env.lottery.View(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PhaseRest, view.Phase)
	assert.False(t, view.CanBuy)
	assert.Equal(t, int64(1000), view.Prize)
	assert.Nil(t, view.LastWinner)

	env.clock.Advance(env.cfg.Rest)
	res, err := env.lottery.Buy(ctx, 42)
	require.NoError(t, err)

	view, err = env.lottery.View(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PhaseOpen, view.Phase)
	assert.True(t, view.CanBuy)
	assert.Equal(t, []int64{res.Ticket.TicketID}, view.MyTickets)
	assert.Equal(t, int64(1), view.TicketCount)
	assert.Equal(t, int64(100), view.Pot)
	assert.Equal(t, int64(1100), view.Prize)
	assert.Equal(t, "1,100", view.PrizeText)
	assert.Equal(t, int64(900), view.Balance)
	assert.Equal(t, view.StartTime+int64(env.cfg.DrawFrequency/time.Second), view.DrawTime)

	env.clock.Advance(env.cfg.DrawFrequency)
	_, err = env.lottery.Draw(ctx)
	require.NoError(t, err)

	// Results window: last winner shown with the ticket number
	view, err = env.lottery.View(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PhaseRest, view.Phase)
	require.NotNil(t, view.LastWinner)
	assert.Equal(t, res.Ticket.TicketID, view.LastWinner.TicketID)
	assert.Empty(t, view.MyTickets)
	assert.Equal(t, int64(2000), view.Balance)

	// Next window: the number is hidden again
	env.clock.Advance(env.cfg.Rest)
	view, err = env.lottery.View(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, view.LastWinner)
	assert.Zero(t, view.LastWinner.TicketID)

	winners, err := env.lottery.Winners(ctx)
	require.NoError(t, err)
	require.Len(t, winners.Winners, 1)
	assert.Equal(t, "carol", winners.Winners[0].Username)
	assert.Equal(t, "1,100", winners.Winners[0].AmountText)
}

func TestLotteryService_StaleCacheIsRefreshed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	env.addUser(t, 1, 1000)
	env.openTerm(t)

	// Cache points at a term that no longer exists
	require.NoError(t, env.cache.SetTerm(ctx, model.TermSnapshot{TermID: 9999}))

	_, err := env.lottery.Buy(ctx, 1)
	assert.ErrorIs(t, err, ErrTermChanged)

	_, err = env.lottery.Buy(ctx, 1)
	require.NoError(t, err)
}

func TestAccountService_UpdateBalance(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	accounts := env.lottery.Accounts()

	_, _, err := accounts.EnsureUser(ctx, 5, "dave")
	require.NoError(t, err)

	user, err := accounts.UpdateBalance(ctx, 5, 250, model.TxTypeAdminAdd, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), user.Balance)

	_, err = accounts.UpdateBalance(ctx, 5, -5000, model.TxTypeAdminAdd, nil)
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	_, err = accounts.UpdateBalance(ctx, 5, 0, model.TxTypeAdminAdd, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	sum, err := env.txs.SumByUser(ctx, 5)
	require.NoError(t, err)
	balance, err := accounts.GetBalance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}
