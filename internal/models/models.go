package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Book represents a catalog entry
type Book struct {
	ID            int64           `db:"id" json:"id"`
	Title         string          `db:"title" json:"title"`
	Author        string          `db:"author" json:"author"`
	Description   string          `db:"description" json:"description"`
	Categories    pq.StringArray  `db:"categories" json:"categories"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Stock         int             `db:"stock" json:"stock"`
	CoverImage    string          `db:"cover_image" json:"coverImage"`
	Pages         int             `db:"pages" json:"pages"`
	Publisher     string          `db:"publisher" json:"publisher"`
	PublishedDate string          `db:"published_date" json:"publishedDate"`
	Language      string          `db:"language" json:"language"`
	ISBN          string          `db:"isbn" json:"isbn"`
	Featured      bool            `db:"featured" json:"featured"`
	NewRelease    bool            `db:"new_release" json:"newRelease"`
	Bestseller    bool            `db:"bestseller" json:"bestseller"`
	Rating        float64         `db:"rating" json:"rating"`
	ReviewCount   int             `db:"review_count" json:"reviewCount"`
	Reviews       []Review        `db:"-" json:"reviews,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// RecalculateRating recomputes the aggregate rating from the attached
// reviews. Rating is the mean of review ratings, zero when there are none.
func (b *Book) RecalculateRating() {
	if len(b.Reviews) == 0 {
		b.Rating = 0
		b.ReviewCount = 0
		return
	}

	total := 0
	for _, r := range b.Reviews {
		total += r.Rating
	}
	b.Rating = float64(total) / float64(len(b.Reviews))
	b.ReviewCount = len(b.Reviews)
}

// Review belongs to exactly one book and one user; rating is 1-5 and
// one review per (user, book) pair is enforced at write time.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	BookID    int64     `db:"book_id" json:"book"`
	UserID    int64     `db:"user_id" json:"user"`
	Name      string    `db:"name" json:"name"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"date"`
}

// ShippingAddress is embedded in the order as a JSONB document.
type ShippingAddress struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
	Phone   string `json:"phone"`
}

// Value implements driver.Valuer for JSONB storage
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB storage
func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// PaymentResult is set when an order is marked paid; empty until then.
type PaymentResult struct {
	PaymentID    string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// Value implements driver.Valuer; an empty result stores as NULL
func (p PaymentResult) Value() (driver.Value, error) {
	if p == (PaymentResult{}) {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage
func (p *PaymentResult) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = PaymentResult{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported payment result type %T", src)
	}
}

// Order represents a customer order. Line items are snapshots of the
// catalog entries at order time, decoupled from later catalog edits.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          *int64          `db:"user_id" json:"user"`
	Items           []OrderItem     `db:"-" json:"orderItems"`
	ShippingAddress ShippingAddress `db:"shipping_address" json:"shippingAddress"`
	PaymentMethod   string          `db:"payment_method" json:"paymentMethod"`
	PaymentResult   PaymentResult   `db:"payment_result" json:"paymentResult"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingPrice   decimal.Decimal `db:"shipping_price" json:"shippingPrice"`
	Total           decimal.Decimal `db:"total" json:"total"`
	IsPaid          bool            `db:"is_paid" json:"isPaid"`
	PaidAt          *time.Time      `db:"paid_at" json:"paidAt,omitempty"`
	Status          string          `db:"status" json:"status"`
	TrackingNumber  *string         `db:"tracking_number" json:"trackingNumber,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// OrderItem is an immutable snapshot of a book's sale-relevant fields
// at order time.
type OrderItem struct {
	ID         int64           `db:"id" json:"-"`
	OrderID    int64           `db:"order_id" json:"-"`
	BookID     int64           `db:"book_id" json:"book"`
	Title      string          `db:"title" json:"title"`
	Author     string          `db:"author" json:"author"`
	CoverImage string          `db:"cover_image" json:"coverImage"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Quantity   int             `db:"quantity" json:"quantity"`
}

// User represents an account. OrderIDs is the denormalized order index;
// orders carry their own user reference, so the index is a convenience,
// not the source of truth.
type User struct {
	ID           int64         `db:"id" json:"id"`
	Name         string        `db:"name" json:"name"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	Role         string        `db:"role" json:"role"`
	OrderIDs     pq.Int64Array `db:"order_ids" json:"orders"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
}

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// validTransitions describes the order status state machine. Payment
// (isPaid/paidAt) is an independent axis and never moves the status.
var validTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// IsValidStatus reports whether s is a known order status.
func IsValidStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to
// another. Delivered and cancelled are terminal.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProcessedEvent records a consumed event id for idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
