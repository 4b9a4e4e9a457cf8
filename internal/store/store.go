package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/YasinArafatAjad/BookWorld/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	ErrBookNotFound      = errors.New("book not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStatusConflict    = errors.New("order status changed concurrently")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetBookByID retrieves a book with its reviews
func (s *Store) GetBookByID(ctx context.Context, id int64) (*models.Book, error) {
	var book models.Book
	err := s.db.GetContext(ctx, &book, "SELECT * FROM books WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &book.Reviews,
		"SELECT * FROM reviews WHERE book_id = $1 ORDER BY created_at DESC", id); err != nil {
		return nil, err
	}

	return &book, nil
}

// GetBooks retrieves all books
func (s *Store) GetBooks(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := s.db.SelectContext(ctx, &books, "SELECT * FROM books ORDER BY id")
	return books, err
}

// CreateBook inserts a new catalog entry
func (s *Store) CreateBook(ctx context.Context, book *models.Book) error {
	query := `
		INSERT INTO books (title, author, description, categories, price, stock,
			cover_image, pages, publisher, published_date, language, isbn,
			featured, new_release, bestseller)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, rating, review_count, created_at, updated_at`

	return s.db.GetContext(ctx, book, query,
		book.Title, book.Author, book.Description, book.Categories, book.Price,
		book.Stock, book.CoverImage, book.Pages, book.Publisher,
		book.PublishedDate, book.Language, book.ISBN,
		book.Featured, book.NewRelease, book.Bestseller)
}

// UpdateBook updates a catalog entry, including the administrative
// direct stock set.
func (s *Store) UpdateBook(ctx context.Context, book *models.Book) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET title = $1, author = $2, description = $3,
			categories = $4, price = $5, stock = $6, cover_image = $7,
			pages = $8, publisher = $9, published_date = $10, language = $11,
			isbn = $12, featured = $13, new_release = $14, bestseller = $15,
			updated_at = NOW()
		WHERE id = $16`,
		book.Title, book.Author, book.Description, book.Categories, book.Price,
		book.Stock, book.CoverImage, book.Pages, book.Publisher,
		book.PublishedDate, book.Language, book.ISBN,
		book.Featured, book.NewRelease, book.Bestseller, book.ID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a catalog entry; its reviews cascade with it.
func (s *Store) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookNotFound
	}
	return nil
}

// DecrementStock decrements a book's stock by qty in a single conditional
// statement, so stock can never go negative and concurrent orders cannot
// lose updates. Returns ErrBookNotFound or ErrInsufficientStock when the
// decrement does not apply.
func (s *Store) DecrementStock(ctx context.Context, bookID int64, qty int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE books SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		qty, bookID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
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
		"SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)", bookID); err != nil {
		return err
	}
	if !exists {
		return ErrBookNotFound
	}
	return ErrInsufficientStock
}

// IncrementStock re-increments stock (compensation and restock)
func (s *Store) IncrementStock(ctx context.Context, bookID int64, qty int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE books SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		qty, bookID)
	return err
}

// GetStock returns the current stock count for a book
func (s *Store) GetStock(ctx context.Context, bookID int64) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock, "SELECT stock FROM books WHERE id = $1", bookID)
	if err == sql.ErrNoRows {
		return 0, ErrBookNotFound
	}
	return stock, err
}
