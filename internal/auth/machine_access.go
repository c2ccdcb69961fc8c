package auth

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
)

// MachineAccessRepository persists which machines each operator works on.
type MachineAccessRepository interface {
	// SetMachineAccess replaces the user's assignment. An empty list
	// removes every machine.
	SetMachineAccess(ctx context.Context, userID string, machineIDs []string, grantedBy string) error

	// GetMachineAccess returns the grants ordered by machine ID.
	GetMachineAccess(ctx context.Context, userID string) ([]MachineGrant, error)

	// MachineIDs returns the assigned machine IDs ordered by machine ID.
	MachineIDs(ctx context.Context, userID string) ([]string, error)
}

// SQLiteMachineAccessRepository implements MachineAccessRepository using SQLite.
type SQLiteMachineAccessRepository struct {
	db *sql.DB
}

// NewMachineAccessRepository creates a new SQLite-backed assignment repository.
func NewMachineAccessRepository(db *sql.DB) *SQLiteMachineAccessRepository {
	return &SQLiteMachineAccessRepository{db: db}
}

// SetMachineAccess replaces the assignment in one transaction. Duplicate IDs
// are collapsed. An unknown user returns ErrUserNotFound and an unknown
// machine ErrUnknownMachine; in both cases nothing changes.
func (r *SQLiteMachineAccessRepository) SetMachineAccess(ctx context.Context, userID string, machineIDs []string, grantedBy string) error {
	ids := slices.Clone(machineIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	ts := time.Now().UTC().Format(time.RFC3339)

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&exists); err != nil {
			return fmt.Errorf("checking user: %w", err)
		}
		if exists == 0 {
			return ErrUserNotFound
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM user_machines WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clearing machine access: %w", err)
		}
		for _, id := range ids {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO user_machines (user_id, machine_id, granted_by, created_at) VALUES (?, ?, ?, ?)",
				userID, id, nullString(grantedBy), ts)
			if err != nil {
				if database.IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", ErrUnknownMachine, id)
				}
				return fmt.Errorf("granting machine %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetMachineAccess returns the grants for userID.
func (r *SQLiteMachineAccessRepository) GetMachineAccess(ctx context.Context, userID string) ([]MachineGrant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, machine_id, granted_by, created_at
		 FROM user_machines WHERE user_id = ? ORDER BY machine_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("getting machine access: %w", err)
	}
	defer rows.Close()

	grants := []MachineGrant{}
	for rows.Next() {
		var g MachineGrant
		var grantedBy sql.NullString
		var createdAt string
		if err := rows.Scan(&g.UserID, &g.MachineID, &grantedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning machine access: %w", err)
		}
		g.GrantedBy = grantedBy.String
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating machine access: %w", err)
	}
	return grants, nil
}

// MachineIDs returns just the machine IDs assigned to userID.
func (r *SQLiteMachineAccessRepository) MachineIDs(ctx context.Context, userID string) ([]string, error) {
	grants, err := r.GetMachineAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(grants))
	for i, g := range grants {
		ids[i] = g.MachineID
	}
	return ids, nil
}
