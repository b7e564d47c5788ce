package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the order store surface used by handlers and the
// notification pipeline.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	ListDelayed(ctx context.Context, f DelayedFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, id, vendorUsername string, status Status) (*Order, Status, error)
}

// Store reads and mutates the orders table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const orderColumns = `id, vendor_username, customer_username, status, total::float8, created_at, updated_at`

func scanOrder(row pgx.Row, extra ...any) (*Order, error) {
	var o Order
	dest := append([]any{&o.ID, &o.VendorUsername, &o.CustomerUsername, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func terminalStatusStrings() []string {
	terminal := TerminalStatuses()
	out := make([]string, len(terminal))
	for i, st := range terminal {
		out[i] = string(st)
	}
	return out
}

func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, err
}

// ListDelayed returns non-terminal orders older than the filter cutoff,
// oldest first.
func (s *Store) ListDelayed(ctx context.Context, f DelayedFilter) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE status <> ALL($1) AND created_at < $2`
	args := []interface{}{terminalStatusStrings(), f.CreatedBefore}
	argIdx := 3

	if f.VendorUsername != "" {
		query += ` AND vendor_username = $` + strconv.Itoa(argIdx)
		args = append(args, f.VendorUsername)
		argIdx++
	}
	if f.CustomerUsername != "" {
		query += ` AND customer_username = $` + strconv.Itoa(argIdx)
		args = append(args, f.CustomerUsername)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list delayed orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delayed order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateStatus sets the status of an order owned by vendorUsername and
// returns the updated order together with the status it had before.
// Orders already in a terminal status are left untouched.
func (s *Store) UpdateStatus(ctx context.Context, id, vendorUsername string, status Status) (*Order, Status, error) {
	var previous Status
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`WITH prev AS (
		     SELECT id, status FROM orders
		     WHERE id = $1 AND vendor_username = $2
		     FOR UPDATE
		 )
		 UPDATE orders o SET status = $3, updated_at = now()
		 FROM prev
		 WHERE o.id = prev.id AND prev.status <> ALL($4)
		 RETURNING o.id, o.vendor_username, o.customer_username, o.status, o.total::float8,
		           o.created_at, o.updated_at, prev.status`,
		id, vendorUsername, status, terminalStatusStrings(),
	), &previous)
	if errors.Is(err, ErrNotFound) {
		// Either the order does not belong to the vendor or it is terminal.
		existing, gerr := s.Get(ctx, id)
		if gerr != nil || existing.VendorUsername != vendorUsername {
			return nil, "", ErrNotFound
		}
		return nil, "", ErrTerminal
	}
	if err != nil {
		return nil, "", fmt.Errorf("update order %s status: %w", id, err)
	}
	return o, previous, nil
}
