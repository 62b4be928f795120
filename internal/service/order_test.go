package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

type orderFixture struct {
	db      *gorm.DB
	svc     *OrderService
	catalog *repository.CatalogRepository
	client  *model.CommercialClient
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	db, err := repository.Open(sqlite.Open(":memory:"), repository.PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	catalog := repository.NewCatalogRepository(db)
	ctx := context.Background()
	for _, p := range []model.Product{
		{TenantID: "t1", ExternalID: "1", Code: "TAL-12", Name: "Taladro", Price: decimal.RequireFromString("12.5"), Currency: "USD"},
		{TenantID: "t1", ExternalID: "2", Code: "AMO-01", Name: "Amoladora", Price: decimal.NewFromInt(80), Currency: "USD"},
	} {
		p := p
		require.NoError(t, catalog.UpsertProduct(ctx, &p, ""))
	}
	client := &model.CommercialClient{TenantID: "t1", Code: "C001", Name: "Centro", Phone: "099111222", Status: model.ClientStatusActive}
	require.NoError(t, catalog.UpsertClient(ctx, client))

	return &orderFixture{
		db:      db,
		svc:     NewOrderService(repository.NewOrderRepository(db), catalog, logger.NewNop()),
		catalog: catalog,
		client:  client,
	}
}

func (f *orderFixture) addClient(t *testing.T, code string, status model.ClientStatus) *model.CommercialClient {
	t.Helper()
	c := &model.CommercialClient{TenantID: "t1", Code: code, Name: "Cliente " + code, Status: status}
	require.NoError(t, f.catalog.UpsertClient(context.Background(), c))
	return c
}

func domainMessage(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	msg, ok := apperror.Message(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	return msg
}

func TestOrderService_NewOrderAndMergedLines(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, order.OrderNumber)
	assert.Equal(t, model.OrderStatusOrdering, order.Status)
	assert.Equal(t, "", order.Note)
	assert.Equal(t, "", order.DeliveryDate)

	order, err = f.svc.AddItems(ctx, "t1", order.ID, f.client.ID, []model.OrderLine{
		{ProductCode: "TAL-12", Quantity: 3},
		{ProductCode: "AMO-01", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "TAL-12", order.Items[0].Code)
	assert.Equal(t, 5, order.Items[0].Quantity)
	assert.Equal(t, "12.50", order.Items[0].Price.StringFixed(2))
	assert.Equal(t, "Taladro", order.Items[0].Name)
}

func TestOrderService_SecondNewOrderIsRejected(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	open, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 1)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "AMO-01", 1)
	msg := domainMessage(t, err)
	assert.Contains(t, msg, "#0001")
	assert.Contains(t, msg, open.ID)

	other := f.addClient(t, "C002", model.ClientStatusActive)
	second, err := f.svc.AddItem(ctx, "t1", NewOrderID, other.ID, "AMO-01", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, second.OrderNumber)

	_, err = f.svc.AddItem(ctx, "t1", open.ID, other.ID, "AMO-01", 1)
	assert.Contains(t, domainMessage(t, err), "no pertenece al cliente")
}

func TestOrderService_ValidationFailuresLeaveNoOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	inactive := f.addClient(t, "C003", model.ClientStatusInactive)

	_, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "NOPE", 1)
	assert.Equal(t, "Producto no encontrado: NOPE", domainMessage(t, err))

	_, err = f.svc.AddItems(ctx, "t1", NewOrderID, f.client.ID, []model.OrderLine{
		{ProductCode: "TAL-12", Quantity: 1},
		{ProductCode: "NOPE", Quantity: 1},
	})
	domainMessage(t, err)

	_, err = f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 0)
	domainMessage(t, err)

	_, err = f.svc.AddItem(ctx, "t1", NewOrderID, inactive.ID, "TAL-12", 1)
	assert.Contains(t, domainMessage(t, err), "no está activo")

	_, err = f.svc.AddItem(ctx, "t1", NewOrderID, "ghost", "TAL-12", 1)
	domainMessage(t, err)

	_, err = f.svc.AddItems(ctx, "t1", NewOrderID, f.client.ID, nil)
	domainMessage(t, err)

	last, err := repository.NewOrderRepository(f.db).LastNumber(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestOrderService_Lifecycle(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.AddItems(ctx, "t1", NewOrderID, f.client.ID, []model.OrderLine{
		{ProductCode: "TAL-12", Quantity: 1},
		{ProductCode: "AMO-01", Quantity: 1},
	})
	require.NoError(t, err)

	order, err = f.svc.ChangeQuantity(ctx, "t1", order.ID, "AMO-01", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, order.Items[1].Quantity)

	_, err = f.svc.ChangeQuantity(ctx, "t1", order.ID, "ZZZ", 4)
	assert.Contains(t, domainMessage(t, err), "no está en la orden #0001")

	order, err = f.svc.RemoveItem(ctx, "t1", order.ID, "TAL-12")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)

	_, err = f.svc.RemoveItem(ctx, "t1", NewOrderID, "TAL-12")
	domainMessage(t, err)

	order, err = f.svc.Confirm(ctx, "t1", order.ID, " entregar de mañana ", "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "entregar de mañana", order.Note)
	assert.Equal(t, "", order.DeliveryDate)

	for _, mutate := range []func() error{
		func() error { _, err := f.svc.AddItem(ctx, "t1", order.ID, f.client.ID, "TAL-12", 1); return err },
		func() error { _, err := f.svc.RemoveItem(ctx, "t1", order.ID, "AMO-01"); return err },
		func() error { _, err := f.svc.ChangeQuantity(ctx, "t1", order.ID, "AMO-01", 2); return err },
		func() error { _, err := f.svc.Confirm(ctx, "t1", order.ID, "", ""); return err },
		func() error { _, err := f.svc.Cancel(ctx, "t1", order.ID, ""); return err },
	} {
		assert.Equal(t, "La orden #0001 ya está confirmada y no puede modificarse", domainMessage(t, mutate()))
	}

	next, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next.OrderNumber)

	canceled, err := f.svc.Cancel(ctx, "t1", next.ID, "sin stock")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, canceled.Status)
	_, err = f.svc.Confirm(ctx, "t1", next.ID, "", "")
	assert.Equal(t, "La orden #0002 está cancelada y no puede modificarse", domainMessage(t, err))
}

func TestOrderService_EmptyOrderCannotBeConfirmed(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 1)
	require.NoError(t, err)
	order, err = f.svc.RemoveItem(ctx, "t1", order.ID, "TAL-12")
	require.NoError(t, err)
	assert.Empty(t, order.Items)

	_, err = f.svc.Confirm(ctx, "t1", order.ID, "", "")
	assert.Contains(t, domainMessage(t, err), "no tiene productos")
}

func TestOrderService_ConcurrentOrdersGetDistinctNumbers(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	const n = 8
	clients := make([]*model.CommercialClient, n)
	for i := range clients {
		clients[i] = f.addClient(t, "K"+string(rune('A'+i)), model.ClientStatusActive)
	}

	numbers := make([]int, n)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.svc.AddItem(ctx, "t1", NewOrderID, clients[i].ID, "TAL-12", 1)
			if assert.NoError(t, err) {
				numbers[i] = o.OrderNumber
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(numbers)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, numbers)
}

func TestOrderService_ConcurrentNewOrdersForOneClient(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, rejected int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
				return
			}
			if _, ok := apperror.Message(err); ok {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, rejected)
}

func TestOrderService_OrderByPhone(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.OrderByPhone(ctx, "t1", "111222")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	order, err := f.svc.AddItem(ctx, "t1", NewOrderID, f.client.ID, "TAL-12", 1)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "t1", order.ID, "", "martes")
	require.NoError(t, err)

	found, err := f.svc.OrderByPhone(ctx, "t1", "111222")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, "martes", found.DeliveryDate)

	_, err = f.svc.OrderByPhone(ctx, "t1", " ")
	domainMessage(t, err)

	pending, err := f.svc.PendingForClients(ctx, "t1", []string{f.client.ID})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
