package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalogStore implements CatalogStore with the same conditional
// decrement the Postgres store performs.
type fakeCatalogStore struct {
	mu    sync.Mutex
	stock map[int64]int
}

func newFakeCatalog(stock map[int64]int) *fakeCatalogStore {
	return &fakeCatalogStore{stock: stock}
}

func (f *fakeCatalogStore) GetBooks(ctx context.Context) ([]models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	books := make([]models.Book, 0, len(f.stock))
	for id, s := range f.stock {
		books = append(books, models.Book{ID: id, Stock: s})
	}
	return books, nil
}

func (f *fakeCatalogStore) DecrementStock(ctx context.Context, bookID int64, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stock, ok := f.stock[bookID]
	if !ok {
		return store.ErrBookNotFound
	}
	if stock < qty {
		return store.ErrInsufficientStock
	}
	f.stock[bookID] = stock - qty
	return nil
}

func (f *fakeCatalogStore) IncrementStock(ctx context.Context, bookID int64, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[bookID] += qty
	return nil
}

func (f *fakeCatalogStore) stockOf(bookID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[bookID]
}

type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order

	// afterGet, when set, runs once after the next GetOrderByID returns
	// its snapshot, letting a test squeeze a concurrent write between a
	// read and the update that relies on it.
	afterGet func()
}

func newFakeOrders() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[int64]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	o, ok := f.orders[id]
	if !ok {
		f.mu.Unlock()
		return nil, store.ErrOrderNotFound
	}
	cp := cloneOrder(o)
	hook := f.afterGet
	f.afterGet = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return cp, nil
}

func (f *fakeOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (f *fakeOrderStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (f *fakeOrderStore) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if status == "" || o.Status == status {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (f *fakeOrderStore) MarkOrderPaid(ctx context.Context, orderID int64, result models.PaymentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	o.IsPaid = true
	o.PaymentResult = result
	return nil
}

func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, orderID int64, fromStatus, toStatus string, trackingNumber *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	if o.Status != fromStatus {
		return store.ErrStatusConflict
	}
	o.Status = toStatus
	if trackingNumber != nil {
		o.TrackingNumber = trackingNumber
	}
	return nil
}

func (f *fakeOrderStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeUserStore struct {
	mu       sync.Mutex
	appendEr error
	appended map[int64][]int64
}

func newFakeUsers() *fakeUserStore {
	return &fakeUserStore{appended: make(map[int64][]int64)}
}

func (f *fakeUserStore) AppendOrderToUser(ctx context.Context, userID, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendEr != nil {
		return f.appendEr
	}
	f.appended[userID] = append(f.appended[userID], orderID)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	paid      []*models.OrderPaidEvent
	changed   []*models.OrderStatusChangedEvent
	cancelled []*models.OrderCancelledEvent
}

func (f *fakePublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, e)
	return nil
}

func (f *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, e)
	return nil
}

func (f *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, e)
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, e)
	return nil
}

type fixture struct {
	catalog *fakeCatalogStore
	orders  *fakeOrderStore
	users   *fakeUserStore
	events  *fakePublisher
	svc     *OrderService
}

func newFixture(stock map[int64]int) *fixture {
	catalog := newFakeCatalog(stock)
	orders := newFakeOrders()
	users := newFakeUsers()
	events := &fakePublisher{}
	adjuster := NewStockAdjuster(catalog, nil)
	return &fixture{
		catalog: catalog,
		orders:  orders,
		users:   users,
		events:  events,
		svc:     NewOrderService(orders, users, adjuster, events),
	}
}

func testAddress() models.ShippingAddress {
	return models.ShippingAddress{
		Name:    "Jane Reader",
		Street:  "12 Shelf Lane",
		City:    "Booktown",
		State:   "CA",
		ZipCode: "94000",
		Country: "US",
		Phone:   "555-0100",
	}
}

func placeRequest(items ...OrderItemRequest) *PlaceOrderRequest {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return &PlaceOrderRequest{
		Items:           items,
		ShippingAddress: testAddress(),
		PaymentMethod:   "card",
		Subtotal:        subtotal,
		ShippingPrice:   decimal.Zero,
		Total:           subtotal,
	}
}

func TestPlaceOrderEchoesInput(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	req := placeRequest(OrderItemRequest{
		BookID:     1,
		Title:      "The Go Programming Language",
		Author:     "Donovan & Kernighan",
		CoverImage: "/covers/gopl.jpg",
		Price:      decimal.RequireFromString("25.00"),
		Quantity:   2,
	})
	req.Notes = "leave at the door"

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Order)

	order := resp.Order
	assert.NotZero(t, order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.False(t, order.IsPaid)
	require.NotNil(t, order.UserID)
	assert.Equal(t, int64(7), *order.UserID)

	require.Len(t, order.Items, 1)
	assert.Equal(t, "The Go Programming Language", order.Items[0].Title)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].Price.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, testAddress(), order.ShippingAddress)
	assert.True(t, order.Total.Equal(req.Total))
	require.NotNil(t, order.Notes)
	assert.Equal(t, "leave at the door", *order.Notes)

	assert.Equal(t, 8, fx.catalog.stockOf(1))
	assert.Equal(t, []int64{order.ID}, fx.users.appended[7])
	assert.Len(t, fx.events.placed, 1)
	assert.Empty(t, resp.SkippedItems)
}

func TestPlaceOrderRejectsEmptyItems(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	_, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest())
	assert.ErrorIs(t, err, ErrNoOrderItems)

	// Nothing was written anywhere.
	assert.Zero(t, fx.orders.count())
	assert.Equal(t, 10, fx.catalog.stockOf(1))
	assert.Empty(t, fx.users.appended)
	assert.Empty(t, fx.events.placed)
}

func TestPlaceOrderSkipsUnknownBook(t *testing.T) {
	fx := newFixture(map[int64]int{1: 5})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Known", Price: decimal.RequireFromString("10.00"), Quantity: 1},
		OrderItemRequest{BookID: 999, Title: "Gone", Price: decimal.RequireFromString("5.00"), Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, resp.Order.Status)
	assert.Equal(t, []int64{999}, resp.SkippedItems)
	assert.Equal(t, 4, fx.catalog.stockOf(1))
	require.Len(t, fx.events.placed, 1)
	assert.Equal(t, []int64{999}, fx.events.placed[0].SkippedItems)
}

func TestPlaceOrderInsufficientStockCompensates(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10, 2: 1})

	_, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Plenty", Price: decimal.RequireFromString("10.00"), Quantity: 2},
		OrderItemRequest{BookID: 2, Title: "Scarce", Price: decimal.RequireFromString("10.00"), Quantity: 5},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	// The first item's decrement was rolled back and the order cancelled.
	assert.Equal(t, 10, fx.catalog.stockOf(1))
	assert.Equal(t, 1, fx.catalog.stockOf(2))

	orders, _ := fx.orders.ListOrders(context.Background(), "")
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCancelled, orders[0].Status)
	assert.Empty(t, fx.users.appended)
}

func TestPlaceOrderToleratesIndexFailure(t *testing.T) {
	fx := newFixture(map[int64]int{1: 3})
	fx.users.appendEr = errors.New("index update failed")

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("12.50"), Quantity: 1},
	))
	require.NoError(t, err)

	// The order is independently retrievable and carries the user
	// reference even though the index append failed.
	stored, err := fx.orders.GetOrderByID(context.Background(), resp.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, int64(7), *stored.UserID)
	assert.Equal(t, 2, fx.catalog.stockOf(1))
}

func TestPlaceOrderConcurrentStockNeverNegative(t *testing.T) {
	fx := newFixture(map[int64]int{1: 1})

	req := func() *PlaceOrderRequest {
		return placeRequest(OrderItemRequest{
			BookID: 1, Title: "Last Copy",
			Price: decimal.RequireFromString("20.00"), Quantity: 1,
		})
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.PlaceOrder(context.Background(), 7, req())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
			failures++
		}
	}

	assert.Equal(t, 1, failures, "exactly one of the racing orders must fail")
	assert.Equal(t, 0, fx.catalog.stockOf(1), "stock must never go negative")
}

func TestPlaceOrderPersistsTotalsVerbatim(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	req := placeRequest(OrderItemRequest{
		BookID: 1, Title: "Book",
		Price: decimal.RequireFromString("25.00"), Quantity: 2,
	})
	// Free-shipping threshold met client-side; totals arrive precomputed.
	req.Subtotal = decimal.RequireFromString("50.00")
	req.ShippingPrice = decimal.RequireFromString("0")
	req.Total = decimal.RequireFromString("50.00")

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, req)
	require.NoError(t, err)

	// Totals are trusted numerically, not recomputed: 50.00 stays 50.00
	// even though 2 x 25.00 happens to agree with it.
	assert.True(t, resp.Order.Subtotal.Equal(req.Subtotal),
		"subtotal %s must match the caller's %s", resp.Order.Subtotal, req.Subtotal)
	assert.True(t, resp.Order.Total.Equal(req.Total),
		"total %s must match the caller's %s", resp.Order.Total, req.Total)
	assert.Equal(t, "50.00", resp.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "50.00", resp.Order.Total.StringFixed(2))
	assert.True(t, resp.Order.ShippingPrice.IsZero())
}

func TestPlaceOrderIdempotency(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	req := placeRequest(OrderItemRequest{
		BookID: 1, Title: "Book",
		Price: decimal.RequireFromString("10.00"), Quantity: 1,
	})
	req.IdempotencyKey = "key-123"

	first, err := fx.svc.PlaceOrder(context.Background(), 7, req)
	require.NoError(t, err)

	second, err := fx.svc.PlaceOrder(context.Background(), 7, req)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, fx.orders.count())
	assert.Equal(t, 9, fx.catalog.stockOf(1), "stock adjusted only once")
}

func TestGetOrderAuthorization(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("10.00"), Quantity: 1},
	))
	require.NoError(t, err)

	_, err = fx.svc.GetOrder(context.Background(), resp.Order.ID, 8, false)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	got, err := fx.svc.GetOrder(context.Background(), resp.Order.ID, 8, true)
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, got.ID)

	got, err = fx.svc.GetOrder(context.Background(), resp.Order.ID, 7, false)
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, got.ID)
}

func TestPayOrderKeepsStatus(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("10.00"), Quantity: 1},
	))
	require.NoError(t, err)

	paid, err := fx.svc.PayOrder(context.Background(), resp.Order.ID, models.PaymentResult{
		PaymentID: "TXN-1", Status: "COMPLETED",
	})
	require.NoError(t, err)

	assert.True(t, paid.IsPaid)
	assert.Equal(t, models.OrderStatusPending, paid.Status,
		"payment is independent of the status axis")
	assert.Len(t, fx.events.paid, 1)
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("10.00"), Quantity: 2},
	))
	require.NoError(t, err)
	orderID := resp.Order.ID

	_, err = fx.svc.UpdateStatus(context.Background(), orderID, "mislaid", nil)
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = fx.svc.UpdateStatus(context.Background(), orderID, models.OrderStatusDelivered, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updated, err := fx.svc.UpdateStatus(context.Background(), orderID, models.OrderStatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	assert.Len(t, fx.events.changed, 1)

	tracking := "TRK-42"
	updated, err = fx.svc.UpdateStatus(context.Background(), orderID, models.OrderStatusShipped, &tracking)
	require.NoError(t, err)
	require.NotNil(t, updated.TrackingNumber)
	assert.Equal(t, "TRK-42", *updated.TrackingNumber)
}

func TestUpdateStatusCancelledPublishesRestockEvent(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("10.00"), Quantity: 3},
	))
	require.NoError(t, err)

	_, err = fx.svc.UpdateStatus(context.Background(), resp.Order.ID, models.OrderStatusCancelled, nil)
	require.NoError(t, err)

	require.Len(t, fx.events.cancelled, 1)
	event := fx.events.cancelled[0]
	assert.Equal(t, resp.Order.ID, event.OrderID)
	require.Len(t, event.Items, 1)
	assert.Equal(t, int64(1), event.Items[0].BookID)
	assert.Equal(t, 3, event.Items[0].Quantity)
}

func TestUpdateStatusConcurrentCancelPublishesOnce(t *testing.T) {
	fx := newFixture(map[int64]int{1: 10})

	resp, err := fx.svc.PlaceOrder(context.Background(), 7, placeRequest(
		OrderItemRequest{BookID: 1, Title: "Book", Price: decimal.RequireFromString("10.00"), Quantity: 2},
	))
	require.NoError(t, err)
	orderID := resp.Order.ID

	// A second cancel lands between the first caller's read of the
	// pending order and its status write. The stale writer must lose:
	// only one cancel may succeed, or the restock worker would
	// re-increment the same order twice.
	var raceErr error
	fx.orders.mu.Lock()
	fx.orders.afterGet = func() {
		_, raceErr = fx.svc.UpdateStatus(context.Background(), orderID, models.OrderStatusCancelled, nil)
	}
	fx.orders.mu.Unlock()

	_, err = fx.svc.UpdateStatus(context.Background(), orderID, models.OrderStatusCancelled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, raceErr)

	stored, err := fx.orders.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Len(t, fx.events.cancelled, 1, "exactly one cancel event for the order")
}
