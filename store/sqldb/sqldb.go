/*
Package sqldb provides a database/sql implementation of sales.TxStore.

PURPOSE:
  One store, two dialects. SQLite is the default for single-node installs
  and tests; PostgreSQL serves multi-instance deployments. The SQL is kept
  portable: placeholders are written as ? and rebound to $n for Postgres,
  money is TEXT holding the decimal string, timestamps are fixed-width
  UTC TEXT so they order lexically.

KEY TABLES:
  units, sales, installments,
  reprogramming_events, reprogramming_discounts, reprogramming_modifications,
  commission_payments, commission_receipts,
  cancellation_requests, audit_log

  Every child table references sales(id) ON DELETE CASCADE, so deleting a
  sale removes its whole subtree. audit_log has no foreign key and outlives
  the rows it describes.

SALE LOCK:
  SQLite   one writer at a time; a store mutex serializes units of work
           and the pool is limited to a single connection.
  Postgres WithSaleLock opens with SELECT ... FOR UPDATE on the sale row,
           and unit reads inside a unit of work also lock their row.

USAGE:
  store, err := sqldb.OpenSQLite("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := sales.NewEngine(store, sales.WithAuditLog(store))

MIGRATION:
  Schema is auto-migrated on open with CREATE TABLE IF NOT EXISTS.

SEE ALSO:
  - sales/store.go: interface definitions
  - sales/store/memory.go: in-memory implementation for tests
*/
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/sales-engine/sales"
)

// Dialect selects the SQL flavor.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store implements sales.TxStore and sales.AuditLog.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

var (
	_ sales.TxStore  = (*Store)(nil)
	_ sales.AuditLog = (*Store)(nil)
)

// OpenSQLite opens (or creates) a SQLite database. Use ":memory:" for tests.
func OpenSQLite(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	return newStore(db, SQLite)
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newStore(db, Postgres)
}

func newStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(sales.Repository) error) error {
	return s.inTx(ctx, "", fn)
}

// WithSaleLock executes fn within a transaction serialized on the sale.
func (s *Store) WithSaleLock(ctx context.Context, saleID sales.SaleID, fn func(sales.Repository) error) error {
	return s.inTx(ctx, saleID, fn)
}

func (s *Store) inTx(ctx context.Context, saleID sales.SaleID, fn func(sales.Repository) error) error {
	if s.dialect == SQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if saleID != "" && s.dialect == Postgres {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&locked)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("locking sale %s: %w", saleID, err)
		}
	}

	if err := fn(&repo{q: tx, s: s, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// REPOSITORY OUTSIDE A UNIT OF WORK
// =============================================================================

func (s *Store) direct() *repo { return &repo{q: s.db, s: s} }

func (s *Store) GetUnit(ctx context.Context, ref sales.UnitRef) (*sales.Unit, error) {
	return s.direct().GetUnit(ctx, ref)
}

func (s *Store) SaveUnit(ctx context.Context, unit sales.Unit) error {
	return s.direct().SaveUnit(ctx, unit)
}

func (s *Store) ListUnits(ctx context.Context) ([]sales.Unit, error) {
	return s.direct().ListUnits(ctx)
}

func (s *Store) GetSale(ctx context.Context, id sales.SaleID) (*sales.Sale, error) {
	return s.direct().GetSale(ctx, id)
}

func (s *Store) ListSales(ctx context.Context) ([]sales.Sale, error) {
	return s.direct().ListSales(ctx)
}

func (s *Store) InsertSale(ctx context.Context, sale sales.Sale) error {
	return s.direct().InsertSale(ctx, sale)
}

func (s *Store) UpdateSale(ctx context.Context, sale sales.Sale) error {
	return s.direct().UpdateSale(ctx, sale)
}

func (s *Store) DeleteSale(ctx context.Context, id sales.SaleID) error {
	return s.direct().DeleteSale(ctx, id)
}

func (s *Store) InsertInstallments(ctx context.Context, list []sales.Installment) error {
	return s.WithTx(ctx, func(r sales.Repository) error { return r.InsertInstallments(ctx, list) })
}

func (s *Store) GetInstallment(ctx context.Context, id sales.InstallmentID) (*sales.Installment, error) {
	return s.direct().GetInstallment(ctx, id)
}

func (s *Store) ListInstallments(ctx context.Context, saleID sales.SaleID) ([]sales.Installment, error) {
	return s.direct().ListInstallments(ctx, saleID)
}

func (s *Store) UpdateInstallment(ctx context.Context, inst sales.Installment) error {
	return s.direct().UpdateInstallment(ctx, inst)
}

func (s *Store) MarkOverdue(ctx context.Context, saleID *sales.SaleID, asOf time.Time) (int, error) {
	return s.direct().MarkOverdue(ctx, saleID, asOf)
}

func (s *Store) InsertReprogramming(ctx context.Context, ev sales.ReprogrammingEvent) error {
	return s.WithTx(ctx, func(r sales.Repository) error { return r.InsertReprogramming(ctx, ev) })
}

func (s *Store) ListReprogrammings(ctx context.Context, saleID sales.SaleID) ([]sales.ReprogrammingEvent, error) {
	return s.direct().ListReprogrammings(ctx, saleID)
}

func (s *Store) InsertCommissionPayment(ctx context.Context, p sales.CommissionPayment) error {
	return s.direct().InsertCommissionPayment(ctx, p)
}

func (s *Store) ListCommissionPayments(ctx context.Context, saleID sales.SaleID) ([]sales.CommissionPayment, error) {
	return s.direct().ListCommissionPayments(ctx, saleID)
}

func (s *Store) AttachReceipt(ctx context.Context, id sales.CommissionPaymentID, ref sales.ReceiptRef) error {
	return s.direct().AttachReceipt(ctx, id, ref)
}

func (s *Store) InsertCancellation(ctx context.Context, req sales.CancellationRequest) error {
	return s.direct().InsertCancellation(ctx, req)
}

func (s *Store) ListCancellations(ctx context.Context, saleID sales.SaleID) ([]sales.CancellationRequest, error) {
	return s.direct().ListCancellations(ctx, saleID)
}
