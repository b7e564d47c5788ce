package vendors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("vendor not found")
	ErrDuplicate = errors.New("vendor username or email already registered")
)

type Vendor struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	CompanyName string    `json:"companyName"`
	Phone       string    `json:"phone"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository persists vendor accounts.
type Repository interface {
	Create(ctx context.Context, v *Vendor, passwordHash string) error
	GetByUsername(ctx context.Context, username string) (*Vendor, error)
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts v and fills in its generated ID and CreatedAt.
func (s *Store) Create(ctx context.Context, v *Vendor, passwordHash string) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO vendors (username, email, password_hash, company_name, phone)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		v.Username, v.Email, passwordHash, v.CompanyName, v.Phone,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert vendor: %w", err)
	}
	return nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*Vendor, error) {
	var v Vendor
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, company_name, phone, created_at
		 FROM vendors WHERE username = $1`, username,
	).Scan(&v.ID, &v.Username, &v.Email, &v.CompanyName, &v.Phone, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor %s: %w", username, err)
	}
	return &v, nil
}
