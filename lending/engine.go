package lending

import (
	"fmt"
	"time"
)

// Engine is a thin façade over the Database, keeping CLI code simple.
// It is the only mutator of catalog, roster and loan state; callers treat
// every returned error kind except ErrInvariant as a rejected operation
// that leaves the engine fully usable.
type Engine struct {
	db *Database
}

// NewEngine opens (or creates) the SQLite database at dbPath.
func NewEngine(dbPath string) (*Engine, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying database.
func (e *Engine) Close() error { return e.db.Close() }

// ------------------ Registration ------------------

func (e *Engine) RegisterItem(item Item) error      { return e.db.RegisterItem(item) }
func (e *Engine) RegisterBorrower(b Borrower) error { return e.db.RegisterBorrower(b) }

// Seed registers a batch of items and borrowers, stopping at the first
// rejected record.
func (e *Engine) Seed(items []Item, borrowers []Borrower) error {
	for _, item := range items {
		if err := e.db.RegisterItem(item); err != nil {
			return fmt.Errorf("seed item %q: %w", item.ID, err)
		}
	}
	for _, b := range borrowers {
		if err := e.db.RegisterBorrower(b); err != nil {
			return fmt.Errorf("seed borrower %q: %w", b.ID, err)
		}
	}
	return nil
}

// ------------------ Lookups ------------------

func (e *Engine) GetItem(id string) (*Item, error)         { return e.db.GetItem(id) }
func (e *Engine) AllItems() ([]*Item, error)               { return e.db.AllItems() }
func (e *Engine) ItemAvailable(id string) (bool, error)    { return e.db.ItemAvailable(id) }
func (e *Engine) GetBorrower(id string) (*Borrower, error) { return e.db.GetBorrower(id) }
func (e *Engine) AllBorrowers() ([]*Borrower, error)       { return e.db.AllBorrowers() }
func (e *Engine) CanBorrow(id string) (bool, error)        { return e.db.CanBorrow(id) }
func (e *Engine) GetLoan(id int64) (*Loan, error)          { return e.db.GetLoan(id) }

// ------------------ Credentials ------------------

func (e *Engine) SetBorrowerPassword(id, password string) error {
	return e.db.SetBorrowerPassword(id, password)
}

func (e *Engine) AuthenticateBorrower(id, password string) error {
	return e.db.AuthenticateBorrower(id, password)
}

// ------------------ Circulation ------------------

// Borrow lends one copy of the item to the borrower and returns the new
// loan. The loan id is assigned monotonically and never reused.
func (e *Engine) Borrow(borrowerID, itemID string, when time.Time) (*Loan, error) {
	return e.db.BorrowItem(borrowerID, itemID, when)
}

// Return closes the loan and puts the copy back into stock.
func (e *Engine) Return(loanID int64, when time.Time) error {
	return e.db.ReturnLoan(loanID, when)
}

func (e *Engine) ActiveLoans() ([]*Loan, error) { return e.db.ActiveLoans() }
func (e *Engine) AllLoans() ([]*Loan, error)    { return e.db.AllLoans() }

// ------------------ Reporting ------------------

// StatusReport returns a consistent point-in-time view of the library.
func (e *Engine) StatusReport() (*StatusReport, error) { return e.db.StatusReport() }

// ------------------ Utilities ------------------

// PrettyItem formats an item for lists.
func PrettyItem(it *Item) string {
	return fmt.Sprintf("%-8s %-30s %-25s %d/%d", it.ID, it.Title, it.Author, it.AvailableCopies, it.TotalCopies)
}
