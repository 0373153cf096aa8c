package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"posuda/internal/clock"
	"posuda/internal/domain"
	"posuda/internal/repos"
	"posuda/internal/services"
	"posuda/internal/sweeper"
)

var (
	epoch     = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	admin     = domain.Actor{UserID: "u-admin", Role: domain.ActorAdmin}
	recipient = domain.Recipient{LastName: "Petrov", FirstName: "Ivan", MiddleName: "Sergeevich"}
)

type store struct {
	clk    *clock.Fake
	stock  *repos.StockRepo
	orders *services.OrderService
}

func newStore(t *testing.T) store {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewFake(epoch)
	stock := repos.NewStockRepo(db)
	return store{
		clk:    clk,
		stock:  stock,
		orders: services.NewOrderService(db, repos.NewProductRepo(db), stock, repos.NewOrderRepo(db), clk),
	}
}

func (s store) readyOrder(t *testing.T, productID string, qty int) domain.Order {
	t.Helper()
	ctx := t.Context()
	o, err := s.orders.CreateOrder(ctx, "u-alice", []domain.LineRequest{{ProductID: productID, Quantity: qty}}, recipient)
	require.NoError(t, err)
	o, err = s.orders.ChangeStatus(ctx, o.ID, "ready", admin)
	require.NoError(t, err)
	return o
}

func (s store) qty(t *testing.T, productID string) int {
	t.Helper()
	n, err := s.stock.Qty(t.Context(), productID)
	require.NoError(t, err)
	return n
}

func TestRunOnce_CancelsStaleReadyOrders(t *testing.T) {
	s := newStore(t)
	ctx := t.Context()
	sw := sweeper.New(s.orders, s.clk, sweeper.Config{})

	o := s.readyOrder(t, "pan-001", 3)
	require.Equal(t, 2, s.qty(t, "pan-001"))

	s.clk.Advance(9 * 24 * time.Hour)
	rep, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{}, rep)
	assert.Equal(t, 2, s.qty(t, "pan-001"))

	s.clk.Advance(2 * 24 * time.Hour)
	rep, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{Scanned: 1, Cancelled: 1}, rep)
	assert.Equal(t, 5, s.qty(t, "pan-001"))

	got, err := s.orders.Get(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// a second sweep finds nothing and moves no stock
	rep, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{}, rep)
	assert.Equal(t, 5, s.qty(t, "pan-001"))
}

func TestRunOnce_DeadlineIsInclusive(t *testing.T) {
	s := newStore(t)
	sw := sweeper.New(s.orders, s.clk, sweeper.Config{ReadyTTL: 240 * time.Hour})
	s.readyOrder(t, "plate-001", 2)

	s.clk.Advance(240*time.Hour - time.Second)
	rep, err := sw.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, rep.Cancelled)

	s.clk.Advance(time.Second)
	rep, err = sw.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Cancelled)
	assert.Equal(t, 24, s.qty(t, "plate-001"))
}

func TestRunOnce_IgnoresOtherStatuses(t *testing.T) {
	s := newStore(t)
	ctx := t.Context()
	sw := sweeper.New(s.orders, s.clk, sweeper.Config{})

	issued := s.readyOrder(t, "pot-001", 1)
	_, err := s.orders.ChangeStatus(ctx, issued.ID, "issued", admin)
	require.NoError(t, err)
	back := s.readyOrder(t, "pot-001", 1)
	_, err = s.orders.ChangeStatus(ctx, back.ID, "assembling", admin)
	require.NoError(t, err)

	s.clk.Advance(30 * 24 * time.Hour)
	rep, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{}, rep)
	assert.Equal(t, 6, s.qty(t, "pot-001"))
}

type fakeOrders struct {
	mu        sync.Mutex
	stale     []domain.Order
	fail      map[string]error
	cancelled []string
	calls     chan struct{}
}

func (f *fakeOrders) ListReadyBefore(context.Context, time.Time) ([]domain.Order, error) {
	if f.calls != nil {
		defer func() { f.calls <- struct{}{} }()
	}
	return f.stale, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, id string, actor domain.Actor) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if actor.Role != domain.ActorSystem {
		return domain.Order{}, errors.New("sweeper must act as system")
	}
	if err := f.fail[id]; err != nil {
		return domain.Order{}, err
	}
	f.cancelled = append(f.cancelled, id)
	return domain.Order{ID: id, Status: domain.StatusCancelled}, nil
}

func TestRunOnce_FailuresDoNotAbortBatch(t *testing.T) {
	f := &fakeOrders{
		stale: []domain.Order{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		fail: map[string]error{
			"b": errors.New("disk on fire"),
			"c": domain.ErrInvalidTransition,
		},
	}
	sw := sweeper.New(f, clock.NewFake(epoch), sweeper.Config{})

	rep, err := sw.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{Scanned: 4, Cancelled: 2, Skipped: 1, Failed: 1}, rep)
	assert.Equal(t, []string{"a", "d"}, f.cancelled)
}

func TestStartStop_NoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := &fakeOrders{stale: []domain.Order{{ID: "a"}}, calls: make(chan struct{}, 1)}
	sw := sweeper.New(f, clock.NewFake(epoch), sweeper.Config{RunOnStart: true})
	require.NoError(t, sw.Start())

	select {
	case <-f.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("run-on-start sweep never happened")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sw.Stop(ctx))
}

func TestStart_Twice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sw := sweeper.New(&fakeOrders{}, clock.NewFake(epoch), sweeper.Config{})
	require.NoError(t, sw.Start())
	assert.ErrorIs(t, sw.Start(), sweeper.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sw.Stop(ctx))
}

func TestStart_BadSchedule(t *testing.T) {
	sw := sweeper.New(&fakeOrders{}, clock.NewFake(epoch), sweeper.Config{Schedule: "every now and then"})
	assert.Error(t, sw.Start())
}
