package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

const invoicesTable = "invoices"

const (
	createInvoicesPostgres = `CREATE TABLE IF NOT EXISTS invoices (
	id SERIAL PRIMARY KEY,
	invoice_number TEXT,
	vendor TEXT,
	date TEXT,
	total TEXT
)`
	createInvoicesSQLite = `CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_number TEXT,
	vendor TEXT,
	date TEXT,
	total TEXT
)`
)

const defaultListLimit = 500

// ListFilter pages through invoices in id order.
type ListFilter struct {
	AfterID int64
	Limit   int
	// Vendor, when set, keeps only exact matches.
	Vendor string
}

type InvoiceRepository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, rec entity.ExtractedRecord) (*entity.Invoice, error)
	Get(ctx context.Context, id int64) (*entity.Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Invoice, error)
}

type invoiceRepository struct {
	db     *DB
	logger *slog.Logger

	mu     sync.Mutex
	schema bool
}

func NewInvoiceRepository(db *DB, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the invoices table if it does not exist. A
// successful run is remembered; a failed one is retried on the next call.
func (r *invoiceRepository) EnsureSchema(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schema {
		return nil
	}

	ddl := createInvoicesPostgres
	if r.db.Dialect() == dialect.SQLite {
		ddl = createInvoicesSQLite
	}
	if err := r.db.Driver().Exec(ctx, ddl, []any{}, nil); err != nil {
		r.logger.Error("failed to ensure invoices table", "error", err)
		return mapError(err, "ensure schema")
	}
	r.schema = true
	r.logger.Debug("invoices table ready")
	return nil
}

// Insert stores one complete record in its own transaction. The row is
// committed before Insert returns.
func (r *invoiceRepository) Insert(ctx context.Context, rec entity.ExtractedRecord) (*entity.Invoice, error) {
	if missing := rec.Missing(); len(missing) > 0 {
		return nil, common.NewAppError("INCOMPLETE_RECORD",
			"record is missing "+strings.Join(missing, ", "), common.ErrInvalidInput)
	}
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	inv := &entity.Invoice{
		InvoiceNumber: *rec.InvoiceNumber,
		Vendor:        *rec.Vendor,
		Date:          *rec.Date,
		Total:         *rec.Total,
	}

	tx, err := r.db.Driver().Tx(ctx)
	if err != nil {
		return nil, mapError(err, "begin insert")
	}

	id, err := r.insertRow(ctx, tx, inv)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Warn("rollback failed", "error", rbErr)
		}
		r.logger.Error("failed to insert invoice", "invoice_number", inv.InvoiceNumber, "error", err)
		return nil, mapError(err, "insert invoice")
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("failed to commit invoice", "invoice_number", inv.InvoiceNumber, "error", err)
		return nil, mapError(err, "commit invoice")
	}

	inv.ID = id
	r.logger.Debug("invoice inserted", "id", id, "invoice_number", inv.InvoiceNumber)
	return inv, nil
}

func (r *invoiceRepository) insertRow(ctx context.Context, tx dialect.Tx, inv *entity.Invoice) (int64, error) {
	ins := entsql.Dialect(r.db.Dialect()).
		Insert(invoicesTable).
		Columns(entity.FieldNames...).
		Values(inv.InvoiceNumber, inv.Vendor, inv.Date, inv.Total)

	if r.db.Dialect() == dialect.SQLite {
		query, args := ins.Query()
		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	query, args := ins.Returning("id").Query()
	rows := &entsql.Rows{}
	if err := tx.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, sql.ErrNoRows
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

func (r *invoiceRepository) Get(ctx context.Context, id int64) (*entity.Invoice, error) {
	sel := r.selectInvoices().Where(entsql.EQ("id", id))
	out, err := r.query(ctx, sel)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get invoice %d", id))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invoice %d: %w", id, common.ErrNotFound)
	}
	return out[0], nil
}

func (r *invoiceRepository) List(ctx context.Context, filter ListFilter) ([]*entity.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	preds := []*entsql.Predicate{entsql.GT("id", filter.AfterID)}
	if filter.Vendor != "" {
		preds = append(preds, entsql.EQ(entity.FieldVendor, filter.Vendor))
	}
	sel := r.selectInvoices().
		Where(entsql.And(preds...)).
		OrderBy("id").
		Limit(limit)

	out, err := r.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to list invoices", "after_id", filter.AfterID, "error", err)
		return nil, mapError(err, "list invoices")
	}
	return out, nil
}

func (r *invoiceRepository) selectInvoices() *entsql.Selector {
	cols := append([]string{"id"}, entity.FieldNames...)
	return entsql.Dialect(r.db.Dialect()).
		Select(cols...).
		From(entsql.Table(invoicesTable))
}

func (r *invoiceRepository) query(ctx context.Context, sel *entsql.Selector) ([]*entity.Invoice, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := r.db.Driver().Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		var (
			inv                         entity.Invoice
			number, vendor, date, total sql.NullString
		)
		if err := rows.Scan(&inv.ID, &number, &vendor, &date, &total); err != nil {
			return nil, err
		}
		inv.InvoiceNumber = number.String
		inv.Vendor = vendor.String
		inv.Date = date.String
		inv.Total = total.String
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// mapError converts driver errors to common sentinels.
// context.DeadlineExceeded and context.Canceled pass through unchanged.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501": // insufficient_privilege
			return common.NewAppError("DB_PERMISSION", op+": permission denied", errors.Join(common.ErrDatabase, err))
		case "53300", "57P03": // too_many_connections, cannot_connect_now
			return fmt.Errorf("%s: %w: %w", op, common.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w: sqlstate %s: %w", op, common.ErrDatabase, pgErr.Code, err)
	}

	return fmt.Errorf("%s: %w: %w", op, common.ErrDatabase, err)
}
