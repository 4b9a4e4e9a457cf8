package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

// OrderPlacedEvent published when an order is persisted
type OrderPlacedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	UserID       *int64          `json:"user_id,omitempty"`
	Total        string          `json:"total"`
	Items        []OrderItemData `json:"items"`
	SkippedItems []int64         `json:"skipped_items,omitempty"`
}

// OrderPaidEvent published when an order is marked paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// OrderStatusChangedEvent published on administrative status transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// OrderCancelledEvent published when an order transitions to cancelled.
// The restock worker consumes it to re-increment stock for the items.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	Items   []OrderItemData `json:"items"`
}
