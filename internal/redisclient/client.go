package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/decrement_stock.lua
var decrementStockScript string

//go:embed scripts/increment_stock.lua
var incrementStockScript string

// DecrementResult is the outcome of a cached conditional decrement.
type DecrementResult int

const (
	DecrementApplied      DecrementResult = iota // stock was decremented
	DecrementInsufficient                        // cached stock below the requested quantity
	DecrementUncached                            // key not cached, fall back to the database
)

type Client struct {
	rdb             *redis.Client
	decrementScript *redis.Script
	incrementScript *redis.Script
}

// NewClient creates a new Redis client with the stock Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:             rdb,
		decrementScript: redis.NewScript(decrementStockScript),
		incrementScript: redis.NewScript(incrementStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(bookID int64) string {
	return fmt.Sprintf("stock:%d", bookID)
}

// DecrementStock atomically decrements cached stock by qty only when the
// cached count covers it.
func (c *Client) DecrementStock(ctx context.Context, bookID int64, qty int) (DecrementResult, error) {
	result, err := c.decrementScript.Run(ctx, c.rdb, []string{stockKey(bookID)}, qty).Result()
	if err != nil {
		return DecrementUncached, fmt.Errorf("decrement stock script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return DecrementUncached, fmt.Errorf("unexpected script result type %T", result)
	}

	switch code {
	case 1:
		return DecrementApplied, nil
	case 0:
		return DecrementInsufficient, nil
	default:
		return DecrementUncached, nil
	}
}

// IncrementStock atomically re-increments cached stock (compensation and
// restock). A missing key is not an error; the sync pass repopulates it.
func (c *Client) IncrementStock(ctx context.Context, bookID int64, qty int) error {
	_, err := c.incrementScript.Run(ctx, c.rdb, []string{stockKey(bookID)}, qty).Result()
	if err != nil {
		return fmt.Errorf("increment stock script failed: %w", err)
	}
	return nil
}

// SetStock initializes or overwrites the cached stock count for a book
func (c *Client) SetStock(ctx context.Context, bookID int64, stock int) error {
	return c.rdb.Set(ctx, stockKey(bookID), stock, 0).Err()
}

// DeleteStock removes the cached stock count for a book
func (c *Client) DeleteStock(ctx context.Context, bookID int64) error {
	return c.rdb.Del(ctx, stockKey(bookID)).Err()
}

// GetStock retrieves the cached stock count for a book
func (c *Client) GetStock(ctx context.Context, bookID int64) (int, error) {
	result, err := c.rdb.Get(ctx, stockKey(bookID)).Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("stock not cached for book %d", bookID)
	}
	return result, err
}
