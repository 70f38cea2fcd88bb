package lending

import "time"

// Loan statuses.
const (
	LoanStatusActive   = "ACTIVE"
	LoanStatusReturned = "RETURNED"
)

// Item represents a catalog entry with a fixed number of copies.
// AvailableCopies only changes through borrow/return transactions and
// always stays within [0, TotalCopies].
type Item struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// Borrower represents a registered borrower with a fixed borrow limit.
type Borrower struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BorrowLimit  int    `json:"borrow_limit"`
	PasswordHash string `json:"-"` // Don't serialize password hash

	// HeldItemIDs lists the item ids of the borrower's active loans,
	// one entry per loan (not always populated).
	HeldItemIDs []string `json:"held_item_ids,omitempty"`
}

// Loan links one item to one borrower from issue until return.
// Loans are never deleted; returned loans remain as history.
type Loan struct {
	ID         int64      `json:"id"`
	ItemID     string     `json:"item_id"`
	BorrowerID string     `json:"borrower_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Status     string     `json:"status"`
}

// Active reports whether the loan has not been returned yet.
func (l *Loan) Active() bool { return l.Status == LoanStatusActive }

// ItemStatus is one catalog line of a status report.
type ItemStatus struct {
	Title           string `json:"title"`
	AvailableCopies int    `json:"available_copies"`
	TotalCopies     int    `json:"total_copies"`
}

// ActiveLoanEntry is one circulation line of a status report.
type ActiveLoanEntry struct {
	BorrowerName string `json:"borrower_name"`
	ItemTitle    string `json:"item_title"`
}

// StatusReport is a point-in-time view of the whole library, assembled
// inside a single read transaction. Rendering (text, sorting beyond the
// title order of Items, localization) is the caller's concern.
type StatusReport struct {
	Items       []ItemStatus      `json:"items"`
	ActiveLoans []ActiveLoanEntry `json:"active_loans"`
}
