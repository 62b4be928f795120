package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

func TestOrderRepository_NextNumberPerTenant(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	next := func(tenantID string) int {
		var n int
		require.NoError(t, repo.Transaction(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = repo.NextNumber(tx, tenantID)
			return err
		}))
		return n
	}

	assert.Equal(t, 1, next("t1"))
	assert.Equal(t, 2, next("t1"))
	assert.Equal(t, 1, next("t2"))
	assert.Equal(t, 3, next("t1"))

	last, err := repo.LastNumber(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, last)

	none, err := repo.LastNumber(ctx, "t9")
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestOrderRepository_RolledBackNumberIsReused(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.Transaction(ctx, func(tx *gorm.DB) error {
		n, err := repo.NextNumber(tx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	last, err := repo.LastNumber(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestOrderRepository_OneOpenOrderPerClient(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	client := seedClient(t, db, "t1", "C001", "099")

	first := &model.Order{TenantID: "t1", ComClientID: client.ID, OrderNumber: 1, Status: model.OrderStatusOrdering}
	require.NoError(t, repo.Create(db, first))

	second := &model.Order{TenantID: "t1", ComClientID: client.ID, OrderNumber: 2, Status: model.OrderStatusOrdering}
	require.ErrorIs(t, repo.Create(db, second), ErrDuplicate)

	require.NoError(t, repo.SetStatus(db, first.ID, model.OrderStatusConfirmed, "", ""))
	require.NoError(t, repo.Create(db, second))

	open, err := repo.OpenForClient(db, client.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)
}

func TestOrderRepository_DuplicateNumberRejected(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	a := seedClient(t, db, "t1", "A", "")
	b := seedClient(t, db, "t1", "B", "")

	require.NoError(t, repo.Create(db, &model.Order{TenantID: "t1", ComClientID: a.ID, OrderNumber: 7, Status: model.OrderStatusOrdering}))
	err := repo.Create(db, &model.Order{TenantID: "t1", ComClientID: b.ID, OrderNumber: 7, Status: model.OrderStatusOrdering})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestOrderRepository_Items(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	client := seedClient(t, db, "t1", "C001", "099")
	order := &model.Order{TenantID: "t1", ComClientID: client.ID, OrderNumber: 1, Status: model.OrderStatusOrdering}
	require.NoError(t, repo.Create(db, order))

	add := func(code string, qty int) {
		require.NoError(t, repo.UpsertItem(db, &model.OrderItem{
			OrderID: order.ID, Code: code, Name: code, Quantity: qty, Price: decimal.NewFromInt(5), Currency: "USD",
		}))
	}
	add("A", 2)
	add("B", 1)
	add("A", 3)

	got, err := repo.Get(ctx, "t1", order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "A", got.Items[0].Code)
	assert.Equal(t, 5, got.Items[0].Quantity)
	require.NotNil(t, got.ComClient)
	assert.Equal(t, "C001", got.ComClient.Code)

	ok, err := repo.SetItemQuantity(db, order.ID, "B", 4)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetItemQuantity(db, order.ID, "Z", 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.DeleteItem(db, order.ID, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.DeleteItem(db, order.ID, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.Get(ctx, "t1", order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 4, got.Items[0].Quantity)

	_, err = repo.Get(ctx, "t2", order.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderRepository_Lookups(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	ana := seedClient(t, db, "t1", "C001", "+598 99 111 222")
	beto := seedClient(t, db, "t1", "C002", "098")
	since := time.Now().Add(-24 * time.Hour)

	open := &model.Order{TenantID: "t1", ComClientID: ana.ID, OrderNumber: 1, Status: model.OrderStatusOrdering}
	require.NoError(t, repo.Create(db, open))
	confirmed := &model.Order{TenantID: "t1", ComClientID: ana.ID, OrderNumber: 2, Status: model.OrderStatusCanceled}
	require.NoError(t, repo.Create(db, confirmed))
	require.NoError(t, repo.SetStatus(db, confirmed.ID, model.OrderStatusConfirmed, "nota", "lunes"))
	old := &model.Order{
		Base:        model.Base{CreatedAt: time.Now().Add(-72 * time.Hour)},
		TenantID:    "t1",
		ComClientID: beto.ID,
		OrderNumber: 3,
		Status:      model.OrderStatusCanceled,
	}
	require.NoError(t, repo.Create(db, old))

	latest, err := repo.LatestConfirmedByPhone(ctx, "t1", "111 222", since)
	require.NoError(t, err)
	assert.Equal(t, confirmed.ID, latest.ID)
	assert.Equal(t, "nota", latest.Note)
	assert.Equal(t, "lunes", latest.DeliveryDate)

	_, err = repo.LatestConfirmedByPhone(ctx, "t1", "098", since)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, wildcard := range []string{"%", "_", "9_"} {
		_, err = repo.LatestConfirmedByPhone(ctx, "t1", wildcard, since)
		assert.ErrorIs(t, err, ErrNotFound, wildcard)
	}

	pending, err := repo.PendingForClients(ctx, "t1", []string{ana.ID, beto.ID}, since)
	require.NoError(t, err)
	ids := []string{}
	for _, o := range pending {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{open.ID, confirmed.ID}, ids)

	empty, err := repo.PendingForClients(ctx, "t1", nil, since)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
