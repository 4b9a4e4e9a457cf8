package service

import (
	"context"

	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/util"

	"go.uber.org/zap"
)

// BookStore is the slice of the database store the catalog service needs.
type BookStore interface {
	GetBookByID(ctx context.Context, id int64) (*models.Book, error)
	CreateBook(ctx context.Context, book *models.Book) error
	UpdateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, id int64) error
}

// CatalogService exposes the catalog reads and the administrative edits.
// Administrative edits are the only stock writer besides the adjuster.
type CatalogService struct {
	books  BookStore
	stock  *StockAdjuster
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(books BookStore, stock *StockAdjuster) *CatalogService {
	return &CatalogService{
		books:  books,
		stock:  stock,
		logger: util.GetLogger(),
	}
}

// GetBook retrieves a book with its reviews
func (cs *CatalogService) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	return cs.books.GetBookByID(ctx, id)
}

// CreateBook inserts a new catalog entry and seeds its cached stock
func (cs *CatalogService) CreateBook(ctx context.Context, book *models.Book) error {
	if err := cs.books.CreateBook(ctx, book); err != nil {
		return err
	}

	cs.stock.RefreshCachedStock(ctx, book.ID, book.Stock)
	cs.logger.Info("Book created",
		zap.Int64("book_id", book.ID),
		zap.String("title", book.Title))
	return nil
}

// UpdateBook persists an administrative edit, including a direct stock
// set, and refreshes the cached counter to match.
func (cs *CatalogService) UpdateBook(ctx context.Context, book *models.Book) error {
	if err := cs.books.UpdateBook(ctx, book); err != nil {
		return err
	}

	cs.stock.RefreshCachedStock(ctx, book.ID, book.Stock)
	return nil
}

// DeleteBook removes a catalog entry and drops its cached stock counter.
// Existing order items keep their snapshots; placements referencing the
// id afterwards skip the item.
func (cs *CatalogService) DeleteBook(ctx context.Context, id int64) error {
	if err := cs.books.DeleteBook(ctx, id); err != nil {
		return err
	}

	cs.stock.DropCachedStock(ctx, id)
	cs.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}
