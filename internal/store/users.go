package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/YasinArafatAjad/BookWorld/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by case-folded email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE email = $1", strings.ToLower(strings.TrimSpace(email)))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user. Email is stored case-folded.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	query := `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		user.Name, user.Email, user.PasswordHash, user.Role,
	).Scan(&user.ID, &user.CreatedAt)
}

// AppendOrderToUser appends an order id to the user's denormalized order
// index in a single targeted update.
func (s *Store) AppendOrderToUser(ctx context.Context, userID, orderID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET order_ids = array_append(order_ids, $1) WHERE id = $2",
		orderID, userID)
	if err != nil {
		return fmt.Errorf("failed to append order to user index: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// EnsureAdminUser creates the initial admin account if no admin exists yet.
func (s *Store) EnsureAdminUser(ctx context.Context, name, email, password string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE role = $1)", models.RoleAdmin); err != nil {
		return err
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
	}
	return s.CreateUser(ctx, admin)
}
