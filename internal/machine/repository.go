package machine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
)

// Lister returns every known machine.
// It is the only operation the registry needs for its cache, so tests can
// substitute a fixed list.
type Lister interface {
	List(ctx context.Context) ([]Machine, error)
}

// Store persists individual machines.
type Store interface {
	// GetByID returns ErrMachineNotFound when the ID does not exist.
	GetByID(ctx context.Context, id string) (*Machine, error)

	// GetByNumber returns ErrMachineNotFound when the number does not exist.
	GetByNumber(ctx context.Context, number string) (*Machine, error)

	// Create returns ErrMachineExists when the number is taken.
	Create(ctx context.Context, m *Machine) error

	// Update returns ErrMachineNotFound or ErrMachineExists.
	Update(ctx context.Context, m *Machine) error

	// Delete returns ErrMachineNotFound when the ID does not exist.
	Delete(ctx context.Context, id string) error
}

// Repository combines listing and persistence.
type Repository interface {
	Lister
	Store
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT id, number, display_name, capabilities, ip_address, created_at, updated_at FROM machines`

// List returns all machines ordered by number.
func (r *SQLiteRepository) List(ctx context.Context) ([]Machine, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}
	defer rows.Close()

	machines := []Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating machines: %w", err)
	}
	return machines, nil
}

// GetByID retrieves a machine by its database identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Machine, error) {
	return r.getOne(ctx, selectColumns+" WHERE id = ?", id)
}

// GetByNumber retrieves a machine by its four digit number.
func (r *SQLiteRepository) GetByNumber(ctx context.Context, number string) (*Machine, error) {
	return r.getOne(ctx, selectColumns+" WHERE number = ?", number)
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg string) (*Machine, error) {
	m, err := scanMachine(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("querying machine: %w", err)
	}
	return m, nil
}

// Create inserts a machine. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, m *Machine) error {
	if m.ID == "" {
		m.ID = GenerateID()
	}
	caps, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	m.CreatedAt, m.UpdatedAt = now, now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO machines (id, number, display_name, capabilities, ip_address, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Number, m.DisplayName, string(caps), nullString(m.IPAddress),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrMachineExists
		}
		return fmt.Errorf("creating machine: %w", err)
	}
	return nil
}

// Update replaces every mutable field of m.
func (r *SQLiteRepository) Update(ctx context.Context, m *Machine) error {
	caps, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	m.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	result, err := r.db.ExecContext(ctx,
		`UPDATE machines SET number = ?, display_name = ?, capabilities = ?, ip_address = ?, updated_at = ?
		 WHERE id = ?`,
		m.Number, m.DisplayName, string(caps), nullString(m.IPAddress),
		m.UpdatedAt.Format(time.RFC3339), m.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrMachineExists
		}
		return fmt.Errorf("updating machine: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrMachineNotFound
	}
	return nil
}

// Delete removes a machine and, through foreign keys, its logbook entries.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM machines WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting machine: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrMachineNotFound
	}
	return nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMachine(s scanner) (*Machine, error) {
	var m Machine
	var caps string
	var ip sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(&m.ID, &m.Number, &m.DisplayName, &caps, &ip, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &m.Capabilities); err != nil {
		return nil, fmt.Errorf("machine %s: %w", m.ID, err)
	}
	m.IPAddress = ip.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
