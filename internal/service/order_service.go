package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/store"
	"github.com/YasinArafatAjad/BookWorld/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service-level sentinel errors
var (
	ErrNoOrderItems      = errors.New("no order items")
	ErrNotAuthorized     = errors.New("not authorized to view this order")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// OrderStore is the slice of the database store the order service needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrders(ctx context.Context, status string) ([]models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64, result models.PaymentResult) error
	UpdateOrderStatus(ctx context.Context, orderID int64, fromStatus, toStatus string, trackingNumber *string) error
}

// UserStore is the slice of the database store holding the order index.
type UserStore interface {
	AppendOrderToUser(ctx context.Context, userID, orderID int64) error
}

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// OrderService runs the order placement flow and the administrative
// order operations.
type OrderService struct {
	orders OrderStore
	users  UserStore
	stock  *StockAdjuster
	events EventPublisher
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderStore, users UserStore, stock *StockAdjuster, events EventPublisher) *OrderService {
	return &OrderService{
		orders: orders,
		users:  users,
		stock:  stock,
		events: events,
		logger: util.GetLogger(),
	}
}

// OrderItemRequest is a caller-supplied snapshot of a book at order time.
type OrderItemRequest struct {
	BookID     int64           `json:"book"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	CoverImage string          `json:"coverImage"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// PlaceOrderRequest carries the order placement payload. Subtotal,
// shipping price and total are trusted as supplied by the caller and
// persisted verbatim.
type PlaceOrderRequest struct {
	Items           []OrderItemRequest     `json:"orderItems"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	ShippingPrice   decimal.Decimal        `json:"shippingPrice"`
	Total           decimal.Decimal        `json:"total"`
	Notes           string                 `json:"notes,omitempty"`
	IdempotencyKey  string                 `json:"idempotencyKey,omitempty"`
}

// PlaceOrderResponse is the persisted order plus the book ids of line
// items that were skipped because the referenced book no longer exists.
type PlaceOrderResponse struct {
	Order        *models.Order `json:"order"`
	SkippedItems []int64       `json:"skippedItems,omitempty"`
}

// PlaceOrder runs the placement flow: validate, persist the order with
// its item snapshots, decrement stock per item, append the order to the
// user's order index. Insufficient stock on any item compensates the
// decrements already applied and cancels the order; a missing book skips
// the item; a failed index append is logged and tolerated because orders
// carry their own user reference.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if len(req.Items) == 0 {
		util.OrdersRejectedTotal.WithLabelValues("no_items").Inc()
		return nil, ErrNoOrderItems
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return &PlaceOrderResponse{Order: existing}, nil
		}
	}

	order := s.buildOrder(userID, req)
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int("items", len(order.Items)))

	skipped, err := s.adjustStock(ctx, order)
	if err != nil {
		return nil, err
	}

	if err := s.users.AppendOrderToUser(ctx, userID, order.ID); err != nil {
		// The index is a denormalized convenience; the order itself
		// already carries the user reference.
		s.logger.Warn("Failed to append order to user index",
			zap.Int64("order_id", order.ID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}

	s.publishOrderPlaced(ctx, order, skipped)

	return &PlaceOrderResponse{Order: order, SkippedItems: skipped}, nil
}

func (s *OrderService) buildOrder(userID int64, req *PlaceOrderRequest) *models.Order {
	items := make([]models.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = models.OrderItem{
			BookID:     item.BookID,
			Title:      item.Title,
			Author:     item.Author,
			CoverImage: item.CoverImage,
			Price:      item.Price,
			Quantity:   item.Quantity,
		}
	}

	order := &models.Order{
		UserID:          &userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        req.Subtotal,
		ShippingPrice:   req.ShippingPrice,
		Total:           req.Total,
		IsPaid:          false,
		Status:          models.OrderStatusPending,
	}
	if req.Notes != "" {
		order.Notes = &req.Notes
	}
	if req.IdempotencyKey != "" {
		order.IdempotencyKey = &req.IdempotencyKey
	}
	return order
}

// adjustStock decrements stock for each line item in list order. Items
// referencing unknown books are skipped and reported; insufficient stock
// or a persistence error compensates the decrements already applied and
// cancels the order.
func (s *OrderService) adjustStock(ctx context.Context, order *models.Order) ([]int64, error) {
	start := time.Now()
	defer func() {
		util.StockAdjustLatency.Observe(time.Since(start).Seconds())
	}()

	var skipped []int64
	adjusted := make([]models.OrderItem, 0, len(order.Items))

	for _, item := range order.Items {
		err := s.stock.Decrement(ctx, item.BookID, item.Quantity)
		if err == nil {
			adjusted = append(adjusted, item)
			continue
		}

		if errors.Is(err, store.ErrBookNotFound) {
			util.OrderItemsSkippedTotal.Inc()
			s.logger.Warn("Order item skipped: book not found",
				zap.Int64("order_id", order.ID),
				zap.Int64("book_id", item.BookID))
			skipped = append(skipped, item.BookID)
			continue
		}

		s.compensate(ctx, order, adjusted)

		if errors.Is(err, store.ErrInsufficientStock) {
			util.OrdersRejectedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, fmt.Errorf("book %d: %w", item.BookID, err)
		}
		util.OrdersRejectedTotal.WithLabelValues("stock_error").Inc()
		return nil, fmt.Errorf("failed to adjust stock for book %d: %w", item.BookID, err)
	}

	return skipped, nil
}

// compensate re-increments the decrements already applied and cancels
// the just-created order.
func (s *OrderService) compensate(ctx context.Context, order *models.Order, adjusted []models.OrderItem) {
	for _, item := range adjusted {
		if err := s.stock.Increment(ctx, item.BookID, item.Quantity); err != nil {
			s.logger.Error("Failed to compensate stock decrement",
				zap.Int64("order_id", order.ID),
				zap.Int64("book_id", item.BookID),
				zap.Error(err))
			continue
		}
		util.StockCompensationsTotal.Inc()
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled, nil); err != nil {
		s.logger.Error("Failed to cancel order during compensation",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	util.OrdersCancelledTotal.Inc()
	s.logger.Warn("Order cancelled, stock compensated", zap.Int64("order_id", order.ID))
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order, skipped []int64) {
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:      order.ID,
		UserID:       order.UserID,
		Total:        order.Total.String(),
		Items:        itemData(order.Items),
		SkippedItems: skipped,
	}

	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	data := make([]models.OrderItemData, len(items))
	for i, item := range items {
		data[i] = models.OrderItemData{BookID: item.BookID, Quantity: item.Quantity}
	}
	return data
}

// GetOrder retrieves an order; only its owner or an admin may read it.
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID int64, isAdmin bool) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !isAdmin && (order.UserID == nil || *order.UserID != requesterID) {
		return nil, ErrNotAuthorized
	}
	return order, nil
}

// ListUserOrders retrieves the caller's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// ListOrders retrieves all orders (admin), optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	if status != "" && !models.IsValidStatus(status) {
		return nil, ErrUnknownStatus
	}
	return s.orders.ListOrders(ctx, status)
}

// PayOrder flips the payment flag and stores the provider result. The
// payment axis is independent of the status axis: paying never changes
// the order status.
func (s *OrderService) PayOrder(ctx context.Context, orderID int64, result models.PaymentResult) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PayOrder")
	defer span.End()

	if err := s.orders.MarkOrderPaid(ctx, orderID, result); err != nil {
		return nil, err
	}
	util.OrdersPaidTotal.Inc()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		PaymentID: result.PaymentID,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return order, nil
}

// UpdateStatus performs an administrative status transition, checked
// against the order state machine. A transition to cancelled publishes
// an OrderCancelled event; the restock worker re-increments the stock.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status string, trackingNumber *string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !models.IsValidStatus(status) {
		return nil, ErrUnknownStatus
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	// Conditional on the status just read: if another transition landed in
	// between, the update applies to zero rows instead of overwriting it.
	if err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, status, trackingNumber); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order %d was updated concurrently", ErrInvalidTransition, orderID)
		}
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", order.Status),
		zap.String("to", status))

	changed := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		From:    order.Status,
		To:      status,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, changed); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	if status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		cancelled := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: time.Now(),
			},
			OrderID: orderID,
			Items:   itemData(order.Items),
		}
		if err := s.events.PublishOrderCancelled(ctx, cancelled); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return s.orders.GetOrderByID(ctx, orderID)
}
