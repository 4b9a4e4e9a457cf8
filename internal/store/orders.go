package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/YasinArafatAjad/BookWorld/internal/models"

	"github.com/lib/pq"
)

// CreateOrder persists an order and its line-item snapshots in one
// transaction: either the whole order exists afterwards or nothing does.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, shipping_address, payment_method,
			subtotal, shipping_price, total, is_paid, status, notes,
			idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	if err := tx.QueryRowxContext(ctx, query,
		order.UserID, order.ShippingAddress, order.PaymentMethod,
		order.Subtotal, order.ShippingPrice, order.Total,
		order.IsPaid, order.Status, order.Notes, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, book_id, title, author, cover_image, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			item.OrderID, item.BookID, item.Title, item.Author,
			item.CoverImage, item.Price, item.Quantity,
		).Scan(&item.ID); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its line items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrderByIdempotencyKey returns the order for a key, or nil when none
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrdersByUserID retrieves a user's orders, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	return s.attachItems(ctx, orders)
}

// ListOrders retrieves all orders (admin), optionally filtered by status
func (s *Store) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC", status)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders ORDER BY created_at DESC")
	}
	if err != nil {
		return nil, err
	}
	return s.attachItems(ctx, orders)
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) ([]models.Order, error) {
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = ANY($1) ORDER BY id",
		pq.Array(ids)); err != nil {
		return nil, err
	}

	for _, item := range items {
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}

	return orders, nil
}

// MarkOrderPaid flips the payment flag and stores the provider result.
// The order status is an independent axis and is not touched.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, result models.PaymentResult) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET is_paid = TRUE, paid_at = NOW(), payment_result = $1 WHERE id = $2",
		result, orderID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// UpdateOrderStatus sets an order's status, stamping delivered_at on
// delivery and attaching a tracking number when provided. The update is
// conditional on the status the caller read: a concurrent transition makes
// it apply to zero rows and returns ErrStatusConflict, so two racing
// cancels of the same order produce exactly one OrderCancelled event.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, fromStatus, toStatus string, trackingNumber *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1,
			tracking_number = COALESCE($2, tracking_number),
			delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END
		WHERE id = $3 AND status = $4`,
		toStatus, trackingNumber, orderID, fromStatus)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID); err != nil {
		return err
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
