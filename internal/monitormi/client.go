package monitormi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultQueryTimeout = 5 * time.Second
	defaultMaxConns     = 4
)

// Config contains the connection settings.
type Config struct {
	DSN          string
	Schema       string
	QueryTimeout time.Duration
	MaxConns     int32
}

// Querier is the part of pgxpool.Pool the client uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client reads from Monitor MI.
type Client struct {
	db      Querier
	pool    *pgxpool.Pool
	timeout time.Duration
	now     func() time.Time

	qCurrent, qFallbackStop, qActiveOrder string
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing monitor mi dsn: %w", err)
	}
	poolCfg.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	// Reporting replicas are read-only.
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "toolmgmt"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating monitor mi pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.QueryTimeout))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to monitor mi: %w", err)
	}

	c := New(pool, cfg.Schema, cfg.QueryTimeout)
	c.pool = pool
	return c, nil
}

// New creates a client over an existing connection.
func New(db Querier, schema string, timeout time.Duration) *Client {
	if schema == "" {
		schema = "public"
	}
	table := func(name string) string { return pgx.Identifier{schema, name}.Sanitize() }

	return &Client{
		db:      db,
		timeout: timeoutOrDefault(timeout),
		now:     time.Now,
		qCurrent: `SELECT work_center_number, state, is_setup, indirect_code, last_reporting_time
			FROM ` + table("machine_information") + ` WHERE work_center_number = $1`,
		qFallbackStop: `SELECT indirect_code FROM ` + table("work_log_item") + `
			WHERE work_center_number = $1 AND indirect_code IS NOT NULL AND indirect_code <> ''
			ORDER BY report_time DESC LIMIT 1`,
		qActiveOrder: `SELECT order_number, part_number, report_number, start_time
			FROM ` + table("current_work") + `
			WHERE work_center_number = $1 AND end_time IS NULL
			ORDER BY start_time DESC LIMIT 1`,
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultQueryTimeout
	}
	return d
}

// Close releases the pool opened by Connect.
func (c *Client) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrDisabled
	}
	if c.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.pool.Ping(ctx)
}

// Status returns the state, stop code and running order of a work center.
// When the machine is not running and reports no stop code, the most
// recent code from the work log is used.
func (c *Client) Status(ctx context.Context, workCenter string) (*Status, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wc        string
		state     *int32
		isSetup   *bool
		stop      *string
		reporting *time.Time
	)
	err := c.db.QueryRow(ctx, c.qCurrent, workCenter).Scan(&wc, &state, &isSetup, &stop, &reporting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWorkCenterNotFound, workCenter)
		}
		return nil, fmt.Errorf("querying machine information: %w", err)
	}

	st := &Status{WorkCenter: wc, LastReportingTime: reporting, CheckedAt: c.now().UTC()}
	if state != nil {
		st.StateCode = int(*state)
		st.State = State(*state)
	}
	st.IsSetup = isSetup != nil && *isSetup
	if stop != nil {
		st.StopCode = strings.TrimSpace(*stop)
	}

	if st.StopCode == "" && st.State != StateRunning {
		var fallback string
		// The fallback is a best-effort hint; its failure leaves the code empty.
		if err := c.db.QueryRow(ctx, c.qFallbackStop, workCenter).Scan(&fallback); err == nil {
			st.StopCode = strings.TrimSpace(fallback)
		}
	}

	st.StopCodeDisplay = StopCodeDisplay(st.StopCode)
	st.DisplayName = displayName(st.State, st.IsSetup)
	st.Colour = StatusColour(st.StopCode, st.State)

	order, err := c.activeOrder(ctx, workCenter)
	switch {
	case err == nil:
		st.ActiveOrder = order
	case errors.Is(err, ErrNoActiveOrder):
	default:
		return nil, err
	}
	return st, nil
}

// ActiveOrder returns the order running on the work center.
func (c *Client) ActiveOrder(ctx context.Context, workCenter string) (*Order, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.activeOrder(ctx, workCenter)
}

func (c *Client) activeOrder(ctx context.Context, workCenter string) (*Order, error) {
	var (
		orderNumber, partNumber *string
		reportNumber            *int64
		start                   *time.Time
	)
	err := c.db.QueryRow(ctx, c.qActiveOrder, workCenter).Scan(&orderNumber, &partNumber, &reportNumber, &start)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveOrder
		}
		return nil, fmt.Errorf("querying active order: %w", err)
	}

	o := &Order{ReportNumber: reportNumber, StartTime: start}
	if orderNumber != nil {
		o.OrderNumber = strings.TrimSpace(*orderNumber)
	}
	if partNumber != nil {
		o.PartNumber = strings.TrimSpace(*partNumber)
	}
	if o.OrderNumber == "" {
		return nil, ErrNoActiveOrder
	}
	return o, nil
}

// ActiveOrderNumber returns the running order number, or "" when none is
// running. It satisfies logbook.OrderSource.
func (c *Client) ActiveOrderNumber(ctx context.Context, machineNumber string) (string, error) {
	o, err := c.ActiveOrder(ctx, machineNumber)
	if err != nil {
		if errors.Is(err, ErrNoActiveOrder) {
			return "", nil
		}
		return "", err
	}
	return o.OrderNumber, nil
}
