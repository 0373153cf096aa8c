package services_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posuda/internal/domain"
)

func TestCreateOrder_RoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	o := e.place(t, alice, line("pan-001", 3), line("plate-001", 2))

	assert.Equal(t, domain.StatusUnconfirmed, o.Status)
	assert.Nil(t, o.ReadyAt)
	assert.True(t, epoch.Equal(o.CreatedAt))
	assert.True(t, decimal.RequireFromString("8250").Equal(o.TotalAmount), o.TotalAmount.String())
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Cast Iron Skillet 26cm", o.Items[0].Name)
	assert.Equal(t, "/uploads/pan-001.webp", o.Items[0].Image)

	got, err := e.orders.Get(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.Len(t, got.Items, 2)
	for i := range o.Items {
		assert.Equal(t, o.Items[i].ProductID, got.Items[i].ProductID)
		assert.Equal(t, o.Items[i].Quantity, got.Items[i].Quantity)
		assert.True(t, o.Items[i].Price.Equal(got.Items[i].Price))
	}
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, recipient, got.Recipient)

	assert.Equal(t, 2, e.qty(t, "pan-001"))
	assert.Equal(t, 22, e.qty(t, "plate-001"))
}

func TestCreateOrder_MergesDuplicateLines(t *testing.T) {
	e := newEnv(t)

	o := e.place(t, alice, line("plate-001", 1), line("pot-001", 1), line("plate-001", 2))

	require.Len(t, o.Items, 2)
	assert.Equal(t, "plate-001", o.Items[0].ProductID)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, 21, e.qty(t, "plate-001"))
}

func TestCreateOrder_InsufficientStockLeavesEverythingUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	_, err := e.orders.CreateOrder(ctx, alice.UserID, []domain.LineRequest{line("pan-001", 6)}, recipient)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, e.qty(t, "pan-001"))

	// the second line fails after the first was reserved
	_, err = e.orders.CreateOrder(ctx, alice.UserID, []domain.LineRequest{line("pot-001", 2), line("knife-001", 1)}, recipient)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 8, e.qty(t, "pot-001"))

	mine, err := e.orders.ListForUser(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	cases := []struct {
		name  string
		lines []domain.LineRequest
		rec   domain.Recipient
		want  error
	}{
		{"no items", nil, recipient, domain.ErrValidation},
		{"zero quantity", []domain.LineRequest{line("pot-001", 0)}, recipient, domain.ErrValidation},
		{"blank product", []domain.LineRequest{line("  ", 1)}, recipient, domain.ErrValidation},
		{"missing middle name", []domain.LineRequest{line("pot-001", 1)},
			domain.Recipient{LastName: "Ivanova", FirstName: "Anna", MiddleName: "   "}, domain.ErrValidation},
		{"unknown product", []domain.LineRequest{line("nope", 1)}, recipient, domain.ErrNotFound},
		{"quantity over cap", []domain.LineRequest{line("pot-001", domain.MaxLineQuantity+1)}, recipient, domain.ErrValidation},
		{"merged over cap", []domain.LineRequest{line("pot-001", 600), line("pot-001", 600)}, recipient, domain.ErrValidation},
		{"merged int overflow", []domain.LineRequest{line("pot-001", math.MaxInt), line("pot-001", 2)}, recipient, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.orders.CreateOrder(ctx, alice.UserID, tc.lines, tc.rec)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 8, e.qty(t, "pot-001"))
}

func TestCreateOrder_ConcurrentLastUnit(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []domain.Actor{alice, bob} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.orders.CreateOrder(ctx, who.UserID, []domain.LineRequest{line("cup-001", 1)}, recipient)
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, e.qty(t, "cup-001"))
}

func TestChangeStatus_ReadyAt(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 1))

	o, err := e.orders.ChangeStatus(ctx, o.ID, "assembling", admin)
	require.NoError(t, err)
	assert.Nil(t, o.ReadyAt)

	e.clk.Advance(2 * time.Hour)
	firstReady := e.clk.Now()
	o, err = e.orders.ChangeStatus(ctx, o.ID, "ready", admin)
	require.NoError(t, err)
	require.NotNil(t, o.ReadyAt)
	assert.True(t, firstReady.Equal(*o.ReadyAt))

	// leaving ready keeps the timestamp
	e.clk.Advance(time.Hour)
	_, err = e.orders.ChangeStatus(ctx, o.ID, "assembling", admin)
	require.NoError(t, err)
	got, err := e.orders.Get(ctx, o.ID, admin)
	require.NoError(t, err)
	require.NotNil(t, got.ReadyAt)
	assert.True(t, firstReady.Equal(*got.ReadyAt))

	// re-entering ready stamps it again
	e.clk.Advance(time.Hour)
	o, err = e.orders.ChangeStatus(ctx, o.ID, "ready", admin)
	require.NoError(t, err)
	assert.True(t, e.clk.Now().Equal(*o.ReadyAt))

	o, err = e.orders.ChangeStatus(ctx, o.ID, "issued", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, o.Status)
	assert.Equal(t, 7, e.qty(t, "pot-001"))
}

func TestChangeStatus_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 1))

	_, err := e.orders.ChangeStatus(ctx, o.ID, "shipped", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = e.orders.ChangeStatus(ctx, o.ID, "assembling", alice)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.orders.ChangeStatus(ctx, o.ID, "issued", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.orders.ChangeStatus(ctx, o.ID, "unconfirmed", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.orders.ChangeStatus(ctx, "missing", "ready", admin)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := e.orders.Get(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, got.Status)
}

func TestChangeStatus_ToCancelledRestoresStock(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pan-001", 2))
	require.Equal(t, 3, e.qty(t, "pan-001"))

	o, err := e.orders.ChangeStatus(ctx, o.ID, "cancelled", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, 5, e.qty(t, "pan-001"))
}

func TestChangeStatus_ReinstateReservesStock(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pan-001", 2))
	_, err := e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	require.Equal(t, 5, e.qty(t, "pan-001"))

	o, err = e.orders.ChangeStatus(ctx, o.ID, "unconfirmed", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, o.Status)
	assert.Equal(t, 3, e.qty(t, "pan-001"))

	// once the stock is gone the order cannot come back
	_, err = e.orders.CancelOrder(ctx, o.ID, admin)
	require.NoError(t, err)
	require.NoError(t, e.catalog.SetStock(ctx, "pan-001", 1))
	_, err = e.orders.ChangeStatus(ctx, o.ID, "unconfirmed", admin)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, e.qty(t, "pan-001"))

	got, err := e.orders.Get(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestCancelOrder(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 3), line("cup-001", 1))
	require.Equal(t, 5, e.qty(t, "pot-001"))

	_, err := e.orders.CancelOrder(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound, "other customers cannot see the order")

	o, err = e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, 8, e.qty(t, "pot-001"))
	assert.Equal(t, 1, e.qty(t, "cup-001"))

	_, err = e.orders.CancelOrder(ctx, o.ID, alice)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 8, e.qty(t, "pot-001"))

	_, err = e.orders.CancelOrder(ctx, "missing", alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelOrder_IssuedIsFinal(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 1))
	for _, st := range []string{"ready", "issued"} {
		_, err := e.orders.ChangeStatus(ctx, o.ID, st, admin)
		require.NoError(t, err)
	}

	for _, who := range []domain.Actor{alice, admin, domain.SystemActor} {
		_, err := e.orders.CancelOrder(ctx, o.ID, who)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, who.Role)
	}
	assert.Equal(t, 7, e.qty(t, "pot-001"))
}

func TestCancelOrder_SystemOnlyCancelsReady(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 1))

	_, err := e.orders.CancelOrder(ctx, o.ID, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.orders.ChangeStatus(ctx, o.ID, "ready", admin)
	require.NoError(t, err)
	_, err = e.orders.CancelOrder(ctx, o.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 8, e.qty(t, "pot-001"))
}

func TestCancelOrder_DeletedProductIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("pot-001", 1), line("plate-001", 4))
	require.NoError(t, e.catalog.DeleteProduct(ctx, "pot-001"))

	o, err := e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, 24, e.qty(t, "plate-001"))

	got, err := e.orders.Get(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "Enamel Stock Pot 5L", got.Items[0].Name)
}

func TestDeleteOrder(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	active := e.place(t, alice, line("pan-001", 2))
	cancelled := e.place(t, alice, line("pan-001", 1))
	_, err := e.orders.CancelOrder(ctx, cancelled.ID, alice)
	require.NoError(t, err)
	require.Equal(t, 3, e.qty(t, "pan-001"))

	assert.ErrorIs(t, e.orders.DeleteOrder(ctx, active.ID, alice), domain.ErrForbidden)

	require.NoError(t, e.orders.DeleteOrder(ctx, active.ID, admin))
	assert.Equal(t, 5, e.qty(t, "pan-001"))

	// cancelled orders already gave their units back
	require.NoError(t, e.orders.DeleteOrder(ctx, cancelled.ID, admin))
	assert.Equal(t, 5, e.qty(t, "pan-001"))

	_, err = e.orders.Get(ctx, active.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, e.orders.DeleteOrder(ctx, active.ID, admin), domain.ErrNotFound)
}

func TestGetAndList_Visibility(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	first := e.place(t, alice, line("plate-001", 1))
	e.clk.Advance(time.Minute)
	second := e.place(t, alice, line("plate-001", 1))
	e.place(t, bob, line("plate-001", 1))

	_, err := e.orders.Get(ctx, first.ID, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.orders.Get(ctx, first.ID, admin)
	assert.NoError(t, err)

	mine, err := e.orders.ListForUser(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")

	all, err := e.orders.ListAll(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSearchLast4(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	o := e.place(t, alice, line("plate-001", 1))
	_, err := e.orders.ChangeStatus(ctx, o.ID, "assembling", admin)
	require.NoError(t, err)

	grouped, err := e.orders.SearchLast4(ctx, o.ID[len(o.ID)-4:])
	require.NoError(t, err)
	assert.Len(t, grouped, len(domain.Statuses))
	require.Len(t, grouped[domain.StatusAssembling], 1)
	assert.Equal(t, o.ID, grouped[domain.StatusAssembling][0].ID)
	assert.Empty(t, grouped[domain.StatusReady])

	for _, bad := range []string{"", "abc", "abcde"} {
		_, err := e.orders.SearchLast4(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrValidation, bad)
	}
}
