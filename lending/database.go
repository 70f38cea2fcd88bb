package lending

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// Database provides high-level helpers around a SQLite connection.
// Catalog, roster and loan state live in one database so that every
// borrow/return runs as a single transaction across all three.
type Database struct {
	db *sql.DB

	registerItemStmt     *sql.Stmt
	registerBorrowerStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies
// schema migrations, and prepares common statements. Pass ":memory:" for a
// throwaway database that vanishes on Close.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	// busy_timeout lets concurrent writers wait instead of failing, and
	// _txlock=immediate makes write transactions take the write lock up
	// front so two concurrent borrows serialize instead of deadlocking.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pool connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.registerItemStmt != nil {
		d.registerItemStmt.Close()
	}
	if d.registerBorrowerStmt != nil {
		d.registerBorrowerStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            total_copies INTEGER NOT NULL,
            available_copies INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS borrowers (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            borrow_limit INTEGER NOT NULL,
            password_hash TEXT NOT NULL DEFAULT ''
        );`,
		// AUTOINCREMENT keeps loan ids strictly increasing and never reused.
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            item_id TEXT NOT NULL REFERENCES items(id),
            borrower_id TEXT NOT NULL REFERENCES borrowers(id),
            issued_at DATETIME NOT NULL,
            closed_at DATETIME,
            status TEXT NOT NULL DEFAULT 'ACTIVE'
        );`,
		// One row per active loan; together these are the borrower's held set.
		`CREATE TABLE IF NOT EXISTS holds (
            loan_id INTEGER PRIMARY KEY REFERENCES loans(id),
            borrower_id TEXT NOT NULL REFERENCES borrowers(id),
            item_id TEXT NOT NULL REFERENCES items(id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);`,
		`CREATE INDEX IF NOT EXISTS idx_holds_borrower ON holds(borrower_id);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, schemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.registerItemStmt, err = d.db.Prepare(
		`INSERT INTO items(id,title,author,total_copies,available_copies) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	if d.registerBorrowerStmt, err = d.db.Prepare(
		`INSERT INTO borrowers(id,name,borrow_limit) VALUES(?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// RegisterItem stores a new item with all copies available. Registration
// has no side effect on failure.
func (d *Database) RegisterItem(item Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("%w: item id must be a non-empty string", ErrValidation)
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("%w: item title must be a non-empty string", ErrValidation)
	}
	if strings.TrimSpace(item.Author) == "" {
		return fmt.Errorf("%w: item author must be a non-empty string", ErrValidation)
	}
	if item.TotalCopies < 1 {
		return fmt.Errorf("%w: total copies must be positive, got %d", ErrValidation, item.TotalCopies)
	}

	_, err := d.registerItemStmt.Exec(item.ID, item.Title, item.Author, item.TotalCopies, item.TotalCopies)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: item %q already registered", ErrDuplicateID, item.ID)
		}
		return fmt.Errorf("register item: %w", err)
	}
	return nil
}

// GetItem fetches a single item.
func (d *Database) GetItem(id string) (*Item, error) {
	var it Item
	err := d.db.QueryRow(`SELECT id,title,author,total_copies,available_copies FROM items WHERE id=?`, id).
		Scan(&it.ID, &it.Title, &it.Author, &it.TotalCopies, &it.AvailableCopies)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: item %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

// AllItems returns every registered item.
func (d *Database) AllItems() ([]*Item, error) {
	rows, err := d.db.Query(`SELECT id,title,author,total_copies,available_copies FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Title, &it.Author, &it.TotalCopies, &it.AvailableCopies); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ItemAvailable reports whether at least one copy of the item is in stock.
func (d *Database) ItemAvailable(id string) (bool, error) {
	it, err := d.GetItem(id)
	if err != nil {
		return false, err
	}
	return it.AvailableCopies > 0, nil
}

// decrementAvailable takes one copy out of stock. The sole legal way a
// copy count decreases.
func decrementAvailable(tx *sql.Tx, itemID string) error {
	var available int
	if err := tx.QueryRow(`SELECT available_copies FROM items WHERE id=?`, itemID).Scan(&available); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: item %q", ErrNotFound, itemID)
		}
		return err
	}
	if available == 0 {
		return fmt.Errorf("%w: item %q", ErrNoCopiesAvailable, itemID)
	}
	if _, err := tx.Exec(`UPDATE items SET available_copies=available_copies-1 WHERE id=?`, itemID); err != nil {
		return err
	}
	return verifyItemCopies(tx, itemID)
}

// incrementAvailable puts one copy back into stock.
func incrementAvailable(tx *sql.Tx, itemID string) error {
	var available, total int
	if err := tx.QueryRow(`SELECT available_copies,total_copies FROM items WHERE id=?`, itemID).Scan(&available, &total); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: item %q", ErrNotFound, itemID)
		}
		return err
	}
	if available >= total {
		return fmt.Errorf("%w: item %q", ErrOverReturn, itemID)
	}
	if _, err := tx.Exec(`UPDATE items SET available_copies=available_copies+1 WHERE id=?`, itemID); err != nil {
		return err
	}
	return verifyItemCopies(tx, itemID)
}

// verifyItemCopies re-reads the copy counts after a mutation. A count
// outside [0, total] can only come from a defect, never from bad input.
func verifyItemCopies(tx *sql.Tx, itemID string) error {
	var available, total int
	if err := tx.QueryRow(`SELECT available_copies,total_copies FROM items WHERE id=?`, itemID).Scan(&available, &total); err != nil {
		return err
	}
	if available < 0 || available > total {
		return fmt.Errorf("%w: item %q has %d of %d copies available", ErrInvariant, itemID, available, total)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Roster
// ---------------------------------------------------------------------------

// RegisterBorrower stores a new borrower with an empty held set.
// Registration has no side effect on failure.
func (d *Database) RegisterBorrower(b Borrower) error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: borrower id must be a non-empty string", ErrValidation)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: borrower name must be a non-empty string", ErrValidation)
	}
	if b.BorrowLimit < 1 {
		return fmt.Errorf("%w: borrow limit must be positive, got %d", ErrValidation, b.BorrowLimit)
	}

	_, err := d.registerBorrowerStmt.Exec(b.ID, b.Name, b.BorrowLimit)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: borrower %q already registered", ErrDuplicateID, b.ID)
		}
		return fmt.Errorf("register borrower: %w", err)
	}
	return nil
}

// GetBorrower fetches a single borrower, including the item ids of their
// active loans.
func (d *Database) GetBorrower(id string) (*Borrower, error) {
	var b Borrower
	err := d.db.QueryRow(`SELECT id,name,borrow_limit,password_hash FROM borrowers WHERE id=?`, id).
		Scan(&b.ID, &b.Name, &b.BorrowLimit, &b.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: borrower %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get borrower: %w", err)
	}

	rows, err := d.db.Query(`SELECT item_id FROM holds WHERE borrower_id=? ORDER BY loan_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, err
		}
		b.HeldItemIDs = append(b.HeldItemIDs, itemID)
	}
	return &b, rows.Err()
}

// AllBorrowers returns every registered borrower (without held sets).
func (d *Database) AllBorrowers() ([]*Borrower, error) {
	rows, err := d.db.Query(`SELECT id,name,borrow_limit,password_hash FROM borrowers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var borrowers []*Borrower
	for rows.Next() {
		var b Borrower
		if err := rows.Scan(&b.ID, &b.Name, &b.BorrowLimit, &b.PasswordHash); err != nil {
			return nil, err
		}
		borrowers = append(borrowers, &b)
	}
	return borrowers, rows.Err()
}

// CanBorrow reports whether the borrower is below their limit.
func (d *Database) CanBorrow(id string) (bool, error) {
	held, limit, err := heldCount(d.db.QueryRow, id)
	if err != nil {
		return false, err
	}
	return held < limit, nil
}

type rowQuerier func(query string, args ...any) *sql.Row

func heldCount(queryRow rowQuerier, borrowerID string) (held, limit int, err error) {
	err = queryRow(`SELECT borrow_limit FROM borrowers WHERE id=?`, borrowerID).Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("%w: borrower %q", ErrNotFound, borrowerID)
	}
	if err != nil {
		return 0, 0, err
	}
	if err = queryRow(`SELECT COUNT(*) FROM holds WHERE borrower_id=?`, borrowerID).Scan(&held); err != nil {
		return 0, 0, err
	}
	return held, limit, nil
}

// addHold records one active loan in the borrower's held set.
func addHold(tx *sql.Tx, loanID int64, borrowerID, itemID string) error {
	held, limit, err := heldCount(tx.QueryRow, borrowerID)
	if err != nil {
		return err
	}
	if held >= limit {
		return fmt.Errorf("%w: borrower %q holds %d of %d", ErrLimitReached, borrowerID, held, limit)
	}
	if _, err := tx.Exec(`INSERT INTO holds(loan_id,borrower_id,item_id) VALUES(?,?,?)`, loanID, borrowerID, itemID); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: loan %d", ErrAlreadyHeld, loanID)
		}
		return err
	}
	return nil
}

// removeHold releases the hold belonging to one loan.
func removeHold(tx *sql.Tx, loanID int64) error {
	res, err := tx.Exec(`DELETE FROM holds WHERE loan_id=?`, loanID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: loan %d", ErrNotHeld, loanID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// SetBorrowerPassword stores a bcrypt hash of the borrower's password.
func (d *Database) SetBorrowerPassword(id, password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := d.db.Exec(`UPDATE borrowers SET password_hash=? WHERE id=?`, string(hash), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: borrower %q", ErrNotFound, id)
	}
	return nil
}

// AuthenticateBorrower verifies the borrower's password.
func (d *Database) AuthenticateBorrower(id, password string) error {
	var hash string
	err := d.db.QueryRow(`SELECT password_hash FROM borrowers WHERE id=?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: borrower %q", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if hash == "" {
		return fmt.Errorf("no password set for borrower %q, use 'reset password' first", id)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return fmt.Errorf("incorrect password for borrower %q", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// BorrowItem lends one copy of an item to a borrower in one transaction.
// Preconditions are checked in a fixed order before anything mutates:
// item exists, borrower exists, a copy is available, borrower is under
// their limit. A failure anywhere rolls the whole transaction back, so no
// observer can see the catalog decremented without the matching hold.
func (d *Database) BorrowItem(borrowerID, itemID string, when time.Time) (*Loan, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var available int
	err = tx.QueryRow(`SELECT available_copies FROM items WHERE id=?`, itemID).Scan(&available)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: item %q", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, err
	}

	held, limit, err := heldCount(tx.QueryRow, borrowerID)
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return nil, fmt.Errorf("%w: item %q", ErrNoCopiesAvailable, itemID)
	}
	if held >= limit {
		return nil, fmt.Errorf("%w: borrower %q holds %d of %d", ErrLimitReached, borrowerID, held, limit)
	}

	if err := decrementAvailable(tx, itemID); err != nil {
		return nil, err
	}

	res, err := tx.Exec(`INSERT INTO loans(item_id,borrower_id,issued_at,status) VALUES(?,?,?,?)`,
		itemID, borrowerID, when, LoanStatusActive)
	if err != nil {
		return nil, err
	}
	loanID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := addHold(tx, loanID, borrowerID, itemID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Loan{
		ID:         loanID,
		ItemID:     itemID,
		BorrowerID: borrowerID,
		IssuedAt:   when,
		Status:     LoanStatusActive,
	}, nil
}

// ReturnLoan closes an active loan in one transaction: the copy goes back
// into stock, the hold is released and the loan is marked returned. Loans
// only exist as the result of a successful borrow, so a failing stock
// increment or hold release here means corrupted state, not user error.
func (d *Database) ReturnLoan(loanID int64, when time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var itemID, status string
	var issuedAt time.Time
	err = tx.QueryRow(`SELECT item_id,status,issued_at FROM loans WHERE id=?`, loanID).
		Scan(&itemID, &status, &issuedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: loan %d", ErrNotFound, loanID)
	}
	if err != nil {
		return err
	}
	if status != LoanStatusActive {
		return fmt.Errorf("%w: loan %d", ErrAlreadyReturned, loanID)
	}
	if when.Before(issuedAt) {
		return fmt.Errorf("%w: return time %s is before issue time %s",
			ErrValidation, when.Format(time.RFC3339), issuedAt.Format(time.RFC3339))
	}

	if err := incrementAvailable(tx, itemID); err != nil {
		if errors.Is(err, ErrOverReturn) || errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: loan %d: %v", ErrInvariant, loanID, err)
		}
		return err
	}
	if err := removeHold(tx, loanID); err != nil {
		if errors.Is(err, ErrNotHeld) {
			return fmt.Errorf("%w: loan %d: %v", ErrInvariant, loanID, err)
		}
		return err
	}

	if _, err := tx.Exec(`UPDATE loans SET closed_at=?, status=? WHERE id=?`, when, LoanStatusReturned, loanID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetLoan fetches a single loan.
func (d *Database) GetLoan(id int64) (*Loan, error) {
	l, err := scanLoan(d.db.QueryRow(`SELECT id,item_id,borrower_id,issued_at,closed_at,status FROM loans WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: loan %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// ActiveLoans returns all loans that have not been returned, oldest first.
func (d *Database) ActiveLoans() ([]*Loan, error) {
	return d.queryLoans(`SELECT id,item_id,borrower_id,issued_at,closed_at,status FROM loans WHERE status=? ORDER BY id`, LoanStatusActive)
}

// AllLoans returns the full loan history, oldest first.
func (d *Database) AllLoans() ([]*Loan, error) {
	return d.queryLoans(`SELECT id,item_id,borrower_id,issued_at,closed_at,status FROM loans ORDER BY id`)
}

func (d *Database) queryLoans(query string, args ...any) ([]*Loan, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLoan(row scannable) (*Loan, error) {
	var l Loan
	var closedAt sql.NullTime
	if err := row.Scan(&l.ID, &l.ItemID, &l.BorrowerID, &l.IssuedAt, &closedAt, &l.Status); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		l.ClosedAt = &t
	}
	return &l, nil
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

// StatusReport assembles a consistent snapshot of the catalog and the
// active loans inside a single read transaction. Items come back sorted
// by title; any further sorting or rendering is up to the caller.
func (d *Database) StatusReport() (*StatusReport, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report := &StatusReport{}

	rows, err := tx.Query(`SELECT title,available_copies,total_copies FROM items ORDER BY title`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var is ItemStatus
		if err := rows.Scan(&is.Title, &is.AvailableCopies, &is.TotalCopies); err != nil {
			rows.Close()
			return nil, err
		}
		report.Items = append(report.Items, is)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = tx.Query(`
        SELECT b.name, i.title
        FROM loans l
        JOIN borrowers b ON b.id = l.borrower_id
        JOIN items i ON i.id = l.item_id
        WHERE l.status=?
        ORDER BY l.id`, LoanStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e ActiveLoanEntry
		if err := rows.Scan(&e.BorrowerName, &e.ItemTitle); err != nil {
			return nil, err
		}
		report.ActiveLoans = append(report.ActiveLoans, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return report, tx.Commit()
}
