package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/redisclient"
	"github.com/YasinArafatAjad/BookWorld/internal/store"
	"github.com/YasinArafatAjad/BookWorld/internal/util"

	"go.uber.org/zap"
)

// CatalogStore is the slice of the database store the stock adjuster needs.
type CatalogStore interface {
	GetBooks(ctx context.Context) ([]models.Book, error)
	DecrementStock(ctx context.Context, bookID int64, qty int) error
	IncrementStock(ctx context.Context, bookID int64, qty int) error
}

// StockCache is the Redis fast path for stock counters.
type StockCache interface {
	DecrementStock(ctx context.Context, bookID int64, qty int) (redisclient.DecrementResult, error)
	IncrementStock(ctx context.Context, bookID int64, qty int) error
	SetStock(ctx context.Context, bookID int64, stock int) error
	DeleteStock(ctx context.Context, bookID int64) error
}

// StockAdjuster mutates catalog stock with atomic conditional decrements:
// stock is lowered by qty only when the current count covers it, in one
// operation, so concurrent orders can never drive it negative or lose
// updates to each other.
type StockAdjuster struct {
	catalog CatalogStore
	cache   StockCache
	logger  *zap.Logger
}

// NewStockAdjuster creates a new stock adjuster
func NewStockAdjuster(catalog CatalogStore, cache StockCache) *StockAdjuster {
	return &StockAdjuster{
		catalog: catalog,
		cache:   cache,
		logger:  util.GetLogger(),
	}
}

// Decrement lowers a book's stock by qty. The cached counter is tried
// first; when the key is uncached or Redis is unreachable the database
// decides. A cache hit is synced to the database off the request path.
// Returns store.ErrBookNotFound or store.ErrInsufficientStock when the
// decrement does not apply.
func (sa *StockAdjuster) Decrement(ctx context.Context, bookID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockAdjuster.Decrement")
	defer span.End()

	if sa.cache != nil {
		result, err := sa.cache.DecrementStock(ctx, bookID, qty)
		if err != nil {
			sa.logger.Warn("Cache decrement failed, falling back to database",
				zap.Int64("book_id", bookID),
				zap.Error(err))
		} else {
			switch result {
			case redisclient.DecrementApplied:
				util.StockDecrementsTotal.Inc()
				go sa.syncDecrement(bookID, qty)
				return nil
			case redisclient.DecrementInsufficient:
				util.StockDecrementFailures.WithLabelValues("insufficient_stock").Inc()
				return store.ErrInsufficientStock
			}
			// uncached, fall through to the database
		}
	}

	if err := sa.catalog.DecrementStock(ctx, bookID, qty); err != nil {
		switch {
		case errors.Is(err, store.ErrBookNotFound):
			util.StockDecrementFailures.WithLabelValues("book_not_found").Inc()
		case errors.Is(err, store.ErrInsufficientStock):
			util.StockDecrementFailures.WithLabelValues("insufficient_stock").Inc()
		default:
			util.StockDecrementFailures.WithLabelValues("error").Inc()
		}
		return err
	}

	util.StockDecrementsTotal.Inc()
	return nil
}

// syncDecrement persists a cache-applied decrement to the database.
func (sa *StockAdjuster) syncDecrement(bookID int64, qty int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sa.catalog.DecrementStock(ctx, bookID, qty); err != nil {
		sa.logger.Error("Failed to sync stock decrement to database",
			zap.Int64("book_id", bookID),
			zap.Int("quantity", qty),
			zap.Error(err))
	}
}

// Increment re-raises a book's stock by qty (compensation and restock).
func (sa *StockAdjuster) Increment(ctx context.Context, bookID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockAdjuster.Increment")
	defer span.End()

	if sa.cache != nil {
		if err := sa.cache.IncrementStock(ctx, bookID, qty); err != nil {
			sa.logger.Error("Failed to increment cached stock",
				zap.Int64("book_id", bookID),
				zap.Error(err))
		}
	}

	return sa.catalog.IncrementStock(ctx, bookID, qty)
}

// SyncStockToCache seeds the cached stock counters from the database.
func (sa *StockAdjuster) SyncStockToCache(ctx context.Context) error {
	if sa.cache == nil {
		return nil
	}

	books, err := sa.catalog.GetBooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load books: %w", err)
	}

	for _, book := range books {
		if err := sa.cache.SetStock(ctx, book.ID, book.Stock); err != nil {
			sa.logger.Error("Failed to seed cached stock",
				zap.Int64("book_id", book.ID),
				zap.Error(err))
		}
	}

	sa.logger.Info("Stock cache synced", zap.Int("count", len(books)))
	return nil
}

// RefreshCachedStock overwrites one cached counter after an administrative
// direct stock set.
func (sa *StockAdjuster) RefreshCachedStock(ctx context.Context, bookID int64, stock int) {
	if sa.cache == nil {
		return
	}
	if err := sa.cache.SetStock(ctx, bookID, stock); err != nil {
		sa.logger.Error("Failed to refresh cached stock",
			zap.Int64("book_id", bookID),
			zap.Error(err))
	}
}

// DropCachedStock removes a cached counter after a catalog delete, so the
// fast path cannot keep applying decrements for a book that no longer
// exists.
func (sa *StockAdjuster) DropCachedStock(ctx context.Context, bookID int64) {
	if sa.cache == nil {
		return
	}
	if err := sa.cache.DeleteStock(ctx, bookID); err != nil {
		sa.logger.Error("Failed to drop cached stock",
			zap.Int64("book_id", bookID),
			zap.Error(err))
	}
}
