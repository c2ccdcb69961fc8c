package tool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
)

// Repository persists the catalogue.
type Repository interface {
	List(ctx context.Context) ([]Tool, error)
	GetByNumber(ctx context.Context, number int) (*Tool, error)
	Create(ctx context.Context, t *Tool) error
	Update(ctx context.Context, t *Tool) error
	Delete(ctx context.Context, number int) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT id, number, location, description, article_number, min_stock, max_stock,
	created_at, updated_at FROM tools`

// List returns the catalogue ordered by tool number.
func (r *SQLiteRepository) List(ctx context.Context) ([]Tool, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	tools := []Tool{}
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		tools = append(tools, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tools: %w", err)
	}
	return tools, nil
}

// GetByNumber returns ErrToolNotFound when the number is not catalogued.
func (r *SQLiteRepository) GetByNumber(ctx context.Context, number int) (*Tool, error) {
	t, err := scanTool(r.db.QueryRowContext(ctx, selectColumns+" WHERE number = ?", number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrToolNotFound
		}
		return nil, fmt.Errorf("querying tool: %w", err)
	}
	return t, nil
}

// Create inserts a tool. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, t *Tool) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}
	now := time.Now().UTC().Truncate(time.Second)
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tools (id, number, location, description, article_number, min_stock, max_stock, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Number, t.Location, t.Description, t.ArticleNumber,
		nullInt(t.MinStock), nullInt(t.MaxStock),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrToolExists
		}
		return fmt.Errorf("creating tool: %w", err)
	}
	return nil
}

// Update replaces the descriptive fields of the tool with t.Number.
// The number itself is the key and cannot change.
func (r *SQLiteRepository) Update(ctx context.Context, t *Tool) error {
	t.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	result, err := r.db.ExecContext(ctx,
		`UPDATE tools SET location = ?, description = ?, article_number = ?, min_stock = ?, max_stock = ?, updated_at = ?
		 WHERE number = ?`,
		t.Location, t.Description, t.ArticleNumber, nullInt(t.MinStock), nullInt(t.MaxStock),
		t.UpdatedAt.Format(time.RFC3339), t.Number,
	)
	if err != nil {
		return fmt.Errorf("updating tool: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrToolNotFound
	}
	return nil
}

// Delete removes a tool from the catalogue. Its history stays.
func (r *SQLiteRepository) Delete(ctx context.Context, number int) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tools WHERE number = ?", number)
	if err != nil {
		return fmt.Errorf("deleting tool: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrToolNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTool(s scanner) (*Tool, error) {
	var t Tool
	var minStock, maxStock sql.NullInt64
	var createdAt, updatedAt string

	if err := s.Scan(&t.ID, &t.Number, &t.Location, &t.Description, &t.ArticleNumber,
		&minStock, &maxStock, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.MinStock = intPtr(minStock)
	t.MaxStock = intPtr(maxStock)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &t, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
