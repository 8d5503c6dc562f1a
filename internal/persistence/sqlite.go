package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/kaigouthro/trading-server/internal/types"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			trade_id TEXT,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction INTEGER NOT NULL,
			size TEXT NOT NULL,
			order_type INTEGER NOT NULL,
			price TEXT NOT NULL DEFAULT '0',
			void_price TEXT NOT NULL DEFAULT '0',
			metatype INTEGER NOT NULL DEFAULT 0,
			reduce_only INTEGER NOT NULL DEFAULT 0,
			venue_id TEXT,
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			currency TEXT,
			status INTEGER NOT NULL,
			venue_timestamp DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_trade_id ON orders(trade_id)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exec_id TEXT,
			order_id TEXT NOT NULL,
			venue_id TEXT,
			symbol TEXT NOT NULL,
			direction INTEGER NOT NULL,
			avg_exec_price TEXT NOT NULL,
			size TEXT NOT NULL,
			order_type INTEGER NOT NULL,
			fee_type INTEGER NOT NULL,
			fee_amount TEXT NOT NULL DEFAULT '0',
			total_fee TEXT NOT NULL DEFAULT '0',
			currency TEXT,
			status INTEGER NOT NULL,
			executed_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_exec_id
			ON executions(exec_id) WHERE exec_id IS NOT NULL AND exec_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order_id ON executions(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveOrder upserts an order record by client order id.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, rec types.OrderRecord) error {
	query := `INSERT INTO orders (
			order_id, trade_id, venue, symbol, direction, size, order_type,
			price, void_price, metatype, reduce_only, venue_id, avg_fill_price,
			currency, status, venue_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			venue_id = excluded.venue_id,
			avg_fill_price = excluded.avg_fill_price,
			currency = excluded.currency,
			status = excluded.status,
			venue_timestamp = excluded.venue_timestamp,
			updated_at = CURRENT_TIMESTAMP`

	reduceOnly := 0
	if rec.ReduceOnly {
		reduceOnly = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.OrderID,
		rec.TradeID,
		rec.Venue,
		rec.Symbol,
		int(rec.Direction),
		rec.Size.String(),
		int(rec.OrderType),
		rec.Price.String(),
		rec.VoidPrice.String(),
		int(rec.Metatype),
		reduceOnly,
		rec.VenueID,
		rec.AvgFillPrice.String(),
		rec.Currency,
		int(rec.Status),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// GetOrder returns one order record, nil when unknown.
func (r *SQLiteRepository) GetOrder(ctx context.Context, orderID string) (*types.OrderRecord, error) {
	row := r.db.QueryRowContext(ctx, selectOrders+` WHERE order_id = ?`, orderID)

	rec, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return rec, nil
}

// GetOpenOrders returns every non-terminal record, for recovery at startup.
func (r *SQLiteRepository) GetOpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectOrders+` WHERE status IN (?, ?) ORDER BY created_at`,
		int(types.OrderStatusNew), int(types.OrderStatusPartial))
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []types.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const selectOrders = `SELECT order_id, trade_id, venue, symbol, direction, size,
	order_type, price, void_price, metatype, reduce_only, venue_id,
	avg_fill_price, currency, status, venue_timestamp FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*types.OrderRecord, error) {
	var (
		rec        types.OrderRecord
		direction  int
		orderType  int
		metatype   int
		reduceOnly int
		status     int
		size       string
		price      string
		voidPrice  string
		avgFill    string
		venueID    sql.NullString
		currency   sql.NullString
		tradeID    sql.NullString
		ts         sql.NullTime
	)

	err := row.Scan(&rec.OrderID, &tradeID, &rec.Venue, &rec.Symbol, &direction,
		&size, &orderType, &price, &voidPrice, &metatype, &reduceOnly,
		&venueID, &avgFill, &currency, &status, &ts)
	if err != nil {
		return nil, err
	}

	rec.TradeID = tradeID.String
	rec.Direction = types.Side(direction)
	rec.OrderType = types.OrderType(orderType)
	rec.Metatype = types.Metatype(metatype)
	rec.ReduceOnly = reduceOnly != 0
	rec.VenueID = venueID.String
	rec.Currency = currency.String
	rec.Status = types.OrderStatus(status)
	if ts.Valid {
		rec.Timestamp = ts.Time
	}

	for _, pair := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{size, &rec.Size},
		{price, &rec.Price},
		{voidPrice, &rec.VoidPrice},
		{avgFill, &rec.AvgFillPrice},
	} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", pair.src, err)
		}
		*pair.dst = d
	}

	return &rec, nil
}

// SaveExecution appends one fill event. A fill whose exec id was already
// stored is a no-op, so replaying a venue history window cannot duplicate
// the audit log.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, exec types.Execution) error {
	query := `INSERT OR IGNORE INTO executions (
			exec_id, order_id, venue_id, symbol, direction, avg_exec_price,
			size, order_type, fee_type, fee_amount, total_fee, currency,
			status, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		exec.ExecID,
		exec.OrderID,
		exec.VenueID,
		exec.Symbol,
		int(exec.Direction),
		exec.AvgExecPrice.String(),
		exec.Size.String(),
		int(exec.OrderType),
		int(exec.FeeType),
		exec.FeeAmount.String(),
		exec.TotalFee.String(),
		exec.Currency,
		int(exec.Status),
		exec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecutions returns every fill for one order in execution order.
func (r *SQLiteRepository) GetExecutions(ctx context.Context, orderID string) ([]types.Execution, error) {
	return r.queryExecutions(ctx, selectExecutions+` WHERE order_id = ? ORDER BY executed_at`, orderID)
}

// GetExecutionsBetween returns fills in a time range.
func (r *SQLiteRepository) GetExecutionsBetween(ctx context.Context, from, to time.Time) ([]types.Execution, error) {
	return r.queryExecutions(ctx,
		selectExecutions+` WHERE executed_at >= ? AND executed_at < ? ORDER BY executed_at`, from, to)
}

const selectExecutions = `SELECT exec_id, order_id, venue_id, symbol,
	direction, avg_exec_price, size, order_type, fee_type, fee_amount,
	total_fee, currency, status, executed_at FROM executions`

func (r *SQLiteRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]types.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []types.Execution
	for rows.Next() {
		var (
			exec      types.Execution
			direction int
			orderType int
			feeType   int
			status    int
			price     string
			size      string
			feeAmount string
			totalFee  string
			execID    sql.NullString
			venueID   sql.NullString
			currency  sql.NullString
		)
		err := rows.Scan(&execID, &exec.OrderID, &venueID, &exec.Symbol,
			&direction, &price, &size, &orderType, &feeType, &feeAmount,
			&totalFee, &currency, &status, &exec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		exec.ExecID = execID.String
		exec.VenueID = venueID.String
		exec.Currency = currency.String
		exec.Direction = types.Side(direction)
		exec.OrderType = types.OrderType(orderType)
		exec.FeeType = types.FeeType(feeType)
		exec.Status = types.OrderStatus(status)

		for _, pair := range []struct {
			src string
			dst *decimal.Decimal
		}{
			{price, &exec.AvgExecPrice},
			{size, &exec.Size},
			{feeAmount, &exec.FeeAmount},
			{totalFee, &exec.TotalFee},
		} {
			d, err := decimal.NewFromString(pair.src)
			if err != nil {
				return nil, fmt.Errorf("parse decimal %q: %w", pair.src, err)
			}
			*pair.dst = d
		}

		out = append(out, exec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
