package logbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
	"github.com/verkstad/toolmgmt/internal/machine"
)

// timeLayout sorts lexically in the same order as time, so created_at
// columns can be ordered as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Repository persists logbook entries.
type Repository interface {
	// CreateToolChange stores tc and fills PartsSinceLastChange.
	CreateToolChange(ctx context.Context, tc *ToolChange) error
	ListToolChanges(ctx context.Context, machineID string, opts ListOptions) (Page[ToolChange], error)
	ListToolChangesByTool(ctx context.Context, toolNumber int, opts ListOptions) (Page[ToolChange], error)

	CreateCompensation(ctx context.Context, c *Compensation) error
	ListCompensations(ctx context.Context, machineID string, opts ListOptions) (Page[Compensation], error)

	CreateDisturbance(ctx context.Context, d *Disturbance) error
	ListDisturbances(ctx context.Context, machineID string, opts ListOptions) (Page[Disturbance], error)

	CreateMatrixCode(ctx context.Context, m *MatrixCode) error
	ListMatrixCodes(ctx context.Context, machineID string, opts ListOptions) (Page[MatrixCode], error)

	SetLastOrder(ctx context.Context, machineID, order string) error

	// GetLastOrder returns ErrNoLastOrder when nothing was recorded.
	GetLastOrder(ctx context.Context, machineID string) (*LastOrder, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed logbook repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) stamp() (time.Time, string) {
	now := r.now().UTC().Truncate(time.Microsecond)
	return now, now.Format(timeLayout)
}

func newID(prefix string) string {
	return prefix + uuid.NewString()[:8]
}

// CreateToolChange stores tc. The previous change of the same tool on the
// same machine is read in the same transaction to derive the parts made
// since then.
func (r *SQLiteRepository) CreateToolChange(ctx context.Context, tc *ToolChange) error {
	if tc.ID == "" {
		tc.ID = newID("tc-")
	}
	created, createdText := r.stamp()

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var prev sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT parts_count FROM tool_changes
			 WHERE machine_id = ? AND tool_number = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			tc.MachineID, tc.ToolNumber,
		).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading previous tool change: %w", err)
		}
		tc.PartsSinceLastChange = partsSince(prev, tc.PartsCount)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO tool_changes (id, machine_id, tool_number, cause, comment, signature,
				manufacturing_order, parts_count, parts_since_last_change, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.MachineID, tc.ToolNumber, string(tc.Cause), tc.Comment, tc.Signature,
			tc.ManufacturingOrder, nullInt(tc.PartsCount), nullInt(tc.PartsSinceLastChange),
			nullString(tc.CreatedBy), createdText,
		)
		return err
	})
	if err != nil {
		return insertError("tool change", err)
	}
	tc.CreatedAt = created
	return nil
}

// partsSince is nil without both readings or when the counter went backwards.
func partsSince(prev sql.NullInt64, current *int) *int {
	if !prev.Valid || current == nil {
		return nil
	}
	diff := *current - int(prev.Int64)
	if diff < 0 {
		return nil
	}
	return &diff
}

const toolChangeColumns = `SELECT tc.id, tc.machine_id, m.number, tc.tool_number, tc.cause, tc.comment,
	tc.signature, tc.manufacturing_order, tc.parts_count, tc.parts_since_last_change,
	tc.created_by, tc.created_at
	FROM tool_changes tc JOIN machines m ON m.id = tc.machine_id`

// ListToolChanges returns a machine's tool changes, newest first.
func (r *SQLiteRepository) ListToolChanges(ctx context.Context, machineID string, opts ListOptions) (Page[ToolChange], error) {
	return queryPage(ctx, r.db, opts,
		"SELECT COUNT(*) FROM tool_changes WHERE machine_id = ?",
		toolChangeColumns+" WHERE tc.machine_id = ? ORDER BY tc.created_at DESC, tc.rowid DESC LIMIT ? OFFSET ?",
		scanToolChange, machineID)
}

// ListToolChangesByTool returns every change of a tool across machines, newest first.
func (r *SQLiteRepository) ListToolChangesByTool(ctx context.Context, toolNumber int, opts ListOptions) (Page[ToolChange], error) {
	return queryPage(ctx, r.db, opts,
		"SELECT COUNT(*) FROM tool_changes WHERE tool_number = ?",
		toolChangeColumns+" WHERE tc.tool_number = ? ORDER BY tc.created_at DESC, tc.rowid DESC LIMIT ? OFFSET ?",
		scanToolChange, toolNumber)
}

// CreateCompensation stores c.
func (r *SQLiteRepository) CreateCompensation(ctx context.Context, c *Compensation) error {
	if c.ID == "" {
		c.ID = newID("cmp-")
	}
	created, createdText := r.stamp()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO compensations (id, machine_id, manufacturing_order, coordinate_system, tool, number,
			direction, value, comment, signature, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MachineID, c.ManufacturingOrder, c.CoordinateSystem, c.Tool, c.Number,
		string(c.Direction), c.Value, c.Comment, c.Signature, nullString(c.CreatedBy), createdText,
	)
	if err != nil {
		return insertError("compensation", err)
	}
	c.CreatedAt = created
	return nil
}

// ListCompensations returns a machine's compensations, newest first.
func (r *SQLiteRepository) ListCompensations(ctx context.Context, machineID string, opts ListOptions) (Page[Compensation], error) {
	return queryPage(ctx, r.db, opts,
		"SELECT COUNT(*) FROM compensations WHERE machine_id = ?",
		`SELECT c.id, c.machine_id, m.number, c.manufacturing_order, c.coordinate_system, c.tool, c.number,
			c.direction, c.value, c.comment, c.signature, c.created_by, c.created_at
		 FROM compensations c JOIN machines m ON m.id = c.machine_id
		 WHERE c.machine_id = ? ORDER BY c.created_at DESC, c.rowid DESC LIMIT ? OFFSET ?`,
		scanCompensation, machineID)
}

// CreateDisturbance stores d.
func (r *SQLiteRepository) CreateDisturbance(ctx context.Context, d *Disturbance) error {
	if d.ID == "" {
		d.ID = newID("dst-")
	}
	created, createdText := r.stamp()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO disturbances (id, machine_id, area, comment, signature, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MachineID, string(d.Area), d.Comment, d.Signature, nullString(d.CreatedBy), createdText,
	)
	if err != nil {
		return insertError("disturbance", err)
	}
	d.CreatedAt = created
	return nil
}

// ListDisturbances returns a machine's disturbances, newest first.
func (r *SQLiteRepository) ListDisturbances(ctx context.Context, machineID string, opts ListOptions) (Page[Disturbance], error) {
	return queryPage(ctx, r.db, opts,
		"SELECT COUNT(*) FROM disturbances WHERE machine_id = ?",
		`SELECT d.id, d.machine_id, m.number, d.area, d.comment, d.signature, d.created_by, d.created_at
		 FROM disturbances d JOIN machines m ON m.id = d.machine_id
		 WHERE d.machine_id = ? ORDER BY d.created_at DESC, d.rowid DESC LIMIT ? OFFSET ?`,
		scanDisturbance, machineID)
}

// CreateMatrixCode stores mc.
func (r *SQLiteRepository) CreateMatrixCode(ctx context.Context, mc *MatrixCode) error {
	if mc.ID == "" {
		mc.ID = newID("mx-")
	}
	created, createdText := r.stamp()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO matrix_codes (id, machine_id, manufacturing_order, date_code, comment, signature, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mc.ID, mc.MachineID, mc.ManufacturingOrder, mc.DateCode, mc.Comment, mc.Signature,
		nullString(mc.CreatedBy), createdText,
	)
	if err != nil {
		return insertError("matrix code", err)
	}
	mc.CreatedAt = created
	return nil
}

// ListMatrixCodes returns a machine's matrix codes, newest first.
func (r *SQLiteRepository) ListMatrixCodes(ctx context.Context, machineID string, opts ListOptions) (Page[MatrixCode], error) {
	return queryPage(ctx, r.db, opts,
		"SELECT COUNT(*) FROM matrix_codes WHERE machine_id = ?",
		`SELECT x.id, x.machine_id, m.number, x.manufacturing_order, x.date_code, x.comment, x.signature,
			x.created_by, x.created_at
		 FROM matrix_codes x JOIN machines m ON m.id = x.machine_id
		 WHERE x.machine_id = ? ORDER BY x.created_at DESC, x.rowid DESC LIMIT ? OFFSET ?`,
		scanMatrixCode, machineID)
}

// SetLastOrder records order as the machine's most recent manufacturing order.
func (r *SQLiteRepository) SetLastOrder(ctx context.Context, machineID, order string) error {
	_, now := r.stamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO machine_last_orders (machine_id, manufacturing_order, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(machine_id) DO UPDATE SET
			manufacturing_order = excluded.manufacturing_order,
			updated_at = excluded.updated_at`,
		machineID, order, now,
	)
	if err != nil {
		return insertError("last order", err)
	}
	return nil
}

// GetLastOrder returns the machine's most recent manufacturing order.
func (r *SQLiteRepository) GetLastOrder(ctx context.Context, machineID string) (*LastOrder, error) {
	var lo LastOrder
	var updated string
	err := r.db.QueryRowContext(ctx,
		"SELECT machine_id, manufacturing_order, updated_at FROM machine_last_orders WHERE machine_id = ?",
		machineID,
	).Scan(&lo.MachineID, &lo.ManufacturingOrder, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoLastOrder
		}
		return nil, fmt.Errorf("querying last order: %w", err)
	}
	lo.UpdatedAt = parseTime(updated)
	return &lo, nil
}

// queryPage runs a count and a paged select sharing the same filter argument.
func queryPage[T any](
	ctx context.Context,
	db *sql.DB,
	opts ListOptions,
	countQuery, selectQuery string,
	scan func(scanner) (*T, error),
	filter any,
) (Page[T], error) {
	opts = opts.normalise()
	page := Page[T]{Items: []T{}, Limit: opts.Limit, Offset: opts.Offset}

	if err := db.QueryRowContext(ctx, countQuery, filter).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("counting entries: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectQuery, filter, opts.Limit, opts.Offset)
	if err != nil {
		return page, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return page, fmt.Errorf("scanning entry: %w", err)
		}
		page.Items = append(page.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterating entries: %w", err)
	}
	return page, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanToolChange(s scanner) (*ToolChange, error) {
	var tc ToolChange
	var cause, created string
	var createdBy sql.NullString
	var parts, since sql.NullInt64
	if err := s.Scan(&tc.ID, &tc.MachineID, &tc.MachineNumber, &tc.ToolNumber, &cause, &tc.Comment,
		&tc.Signature, &tc.ManufacturingOrder, &parts, &since, &createdBy, &created); err != nil {
		return nil, err
	}
	tc.Cause = Cause(cause)
	tc.PartsCount = intPtr(parts)
	tc.PartsSinceLastChange = intPtr(since)
	tc.CreatedBy = createdBy.String
	tc.CreatedAt = parseTime(created)
	return &tc, nil
}

func scanCompensation(s scanner) (*Compensation, error) {
	var c Compensation
	var direction, created string
	var createdBy sql.NullString
	if err := s.Scan(&c.ID, &c.MachineID, &c.MachineNumber, &c.ManufacturingOrder, &c.CoordinateSystem,
		&c.Tool, &c.Number, &direction, &c.Value, &c.Comment, &c.Signature, &createdBy, &created); err != nil {
		return nil, err
	}
	c.Direction = Direction(direction)
	c.CreatedBy = createdBy.String
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func scanDisturbance(s scanner) (*Disturbance, error) {
	var d Disturbance
	var area, created string
	var createdBy sql.NullString
	if err := s.Scan(&d.ID, &d.MachineID, &d.MachineNumber, &area, &d.Comment, &d.Signature,
		&createdBy, &created); err != nil {
		return nil, err
	}
	d.Area = Area(area)
	d.CreatedBy = createdBy.String
	d.CreatedAt = parseTime(created)
	return &d, nil
}

func scanMatrixCode(s scanner) (*MatrixCode, error) {
	var mc MatrixCode
	var created string
	var createdBy sql.NullString
	if err := s.Scan(&mc.ID, &mc.MachineID, &mc.MachineNumber, &mc.ManufacturingOrder, &mc.DateCode,
		&mc.Comment, &mc.Signature, &createdBy, &created); err != nil {
		return nil, err
	}
	mc.CreatedBy = createdBy.String
	mc.CreatedAt = parseTime(created)
	return &mc, nil
}

// insertError maps constraint failures to domain errors.
func insertError(what string, err error) error {
	if database.IsForeignKeyViolation(err) {
		return machine.ErrMachineNotFound
	}
	return fmt.Errorf("storing %s: %w", what, err)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // format is controlled
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
