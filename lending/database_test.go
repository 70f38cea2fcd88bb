package lending

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustRegister(t *testing.T, db *Database, items []Item, borrowers []Borrower) {
	t.Helper()
	for _, it := range items {
		if err := db.RegisterItem(it); err != nil {
			t.Fatalf("register item %s: %v", it.ID, err)
		}
	}
	for _, b := range borrowers {
		if err := db.RegisterBorrower(b); err != nil {
			t.Fatalf("register borrower %s: %v", b.ID, err)
		}
	}
}

var testTime = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func TestRegisterItemValidation(t *testing.T) {
	db := tempDB(t)

	tests := []struct {
		name string
		item Item
	}{
		{"empty id", Item{ID: "  ", Title: "T", Author: "A", TotalCopies: 1}},
		{"empty title", Item{ID: "B1", Title: "", Author: "A", TotalCopies: 1}},
		{"empty author", Item{ID: "B1", Title: "T", Author: " ", TotalCopies: 1}},
		{"zero copies", Item{ID: "B1", Title: "T", Author: "A", TotalCopies: 0}},
		{"negative copies", Item{ID: "B1", Title: "T", Author: "A", TotalCopies: -3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := db.RegisterItem(tc.item)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}

	// Rejected registrations leave no trace.
	items, err := db.AllItems()
	if err != nil {
		t.Fatalf("all items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("want empty catalog, got %d items", len(items))
	}
}

func TestRegisterBorrowerValidation(t *testing.T) {
	db := tempDB(t)

	tests := []struct {
		name     string
		borrower Borrower
	}{
		{"empty id", Borrower{ID: "", Name: "Alice", BorrowLimit: 1}},
		{"empty name", Borrower{ID: "R1", Name: " ", BorrowLimit: 1}},
		{"zero limit", Borrower{ID: "R1", Name: "Alice", BorrowLimit: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := db.RegisterBorrower(tc.borrower)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

// Registering a second item under a taken id is rejected and leaves the
// existing entry untouched.
func TestDuplicateRegistration(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 2}})

	err := db.RegisterItem(Item{ID: "B1", Title: "Other", Author: "Other", TotalCopies: 9})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("want ErrDuplicateID, got %v", err)
	}
	it, err := db.GetItem("B1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if it.Title != "Clean Code" || it.TotalCopies != 2 || it.AvailableCopies != 2 {
		t.Fatalf("existing entry was modified: %+v", it)
	}

	err = db.RegisterBorrower(Borrower{ID: "R1", Name: "Mallory", BorrowLimit: 9})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("want ErrDuplicateID, got %v", err)
	}
	b, err := db.GetBorrower("R1")
	if err != nil {
		t.Fatalf("get borrower: %v", err)
	}
	if b.Name != "Alice" || b.BorrowLimit != 2 {
		t.Fatalf("existing entry was modified: %+v", b)
	}
}

func TestGetNotFound(t *testing.T) {
	db := tempDB(t)

	if _, err := db.GetItem("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := db.GetBorrower("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := db.GetLoan(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// Borrowing then returning the same loan restores the catalog and the
// held set to their pre-borrow values exactly.
func TestBorrowReturnRoundTrip(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 2}})

	loan, err := db.BorrowItem("R1", "B1", testTime)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if loan.Status != LoanStatusActive || loan.ItemID != "B1" || loan.BorrowerID != "R1" {
		t.Fatalf("unexpected loan: %+v", loan)
	}

	it, _ := db.GetItem("B1")
	if it.AvailableCopies != 1 {
		t.Fatalf("want 1 available, got %d", it.AvailableCopies)
	}
	b, _ := db.GetBorrower("R1")
	if len(b.HeldItemIDs) != 1 || b.HeldItemIDs[0] != "B1" {
		t.Fatalf("want held [B1], got %v", b.HeldItemIDs)
	}

	if err := db.ReturnLoan(loan.ID, testTime.Add(time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}

	it, _ = db.GetItem("B1")
	if it.AvailableCopies != 2 {
		t.Fatalf("want 2 available after return, got %d", it.AvailableCopies)
	}
	b, _ = db.GetBorrower("R1")
	if len(b.HeldItemIDs) != 0 {
		t.Fatalf("want empty held set after return, got %v", b.HeldItemIDs)
	}

	got, err := db.GetLoan(loan.ID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if got.Status != LoanStatusReturned {
		t.Fatalf("want returned status, got %s", got.Status)
	}
	if got.ClosedAt == nil {
		t.Fatalf("returned loan has no closed time")
	}
	if got.ClosedAt.Before(got.IssuedAt) {
		t.Fatalf("closed %v before issued %v", got.ClosedAt, got.IssuedAt)
	}
}

// Preconditions are checked in a fixed order: item existence before
// borrower existence before availability before the borrow limit.
func TestBorrowPreconditionOrder(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 1}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 1}})

	// Unknown item wins over unknown borrower.
	_, err := db.BorrowItem("ghost", "missing", testTime)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// Check out the only copy, then let an unknown borrower try: the
	// borrower lookup must fail before availability is considered.
	if _, err := db.BorrowItem("R1", "B1", testTime); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	_, err = db.BorrowItem("ghost", "B1", testTime)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown borrower, got %v", err)
	}
	if errors.Is(err, ErrNoCopiesAvailable) {
		t.Fatalf("availability checked before borrower existence")
	}
}

// Scenario: item B1 with two copies, Alice (limit 2) and Bob (limit 1).
// Alice takes both copies, Bob is turned away, Alice's first return frees
// one copy again.
func TestCopyExhaustion(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2}},
		[]Borrower{
			{ID: "R1", Name: "Alice", BorrowLimit: 2},
			{ID: "R2", Name: "Bob", BorrowLimit: 1},
		})

	loan1, err := db.BorrowItem("R1", "B1", testTime)
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if _, err := db.BorrowItem("R1", "B1", testTime.Add(time.Hour)); err != nil {
		t.Fatalf("second borrow of the same title: %v", err)
	}

	it, _ := db.GetItem("B1")
	if it.AvailableCopies != 0 {
		t.Fatalf("want 0 available, got %d", it.AvailableCopies)
	}

	_, err = db.BorrowItem("R2", "B1", testTime.Add(2*time.Hour))
	if !errors.Is(err, ErrNoCopiesAvailable) {
		t.Fatalf("want ErrNoCopiesAvailable, got %v", err)
	}

	if err := db.ReturnLoan(loan1.ID, testTime.Add(24*time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}
	it, _ = db.GetItem("B1")
	if it.AvailableCopies != 1 {
		t.Fatalf("want 1 available after return, got %d", it.AvailableCopies)
	}
}

// Scenario: a borrower at their limit is rejected and the untouched item
// keeps its full stock.
func TestBorrowLimit(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{
			{ID: "B1", Title: "Book One", Author: "Author", TotalCopies: 10},
			{ID: "B2", Title: "Book Two", Author: "Author", TotalCopies: 10},
		},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 1}})

	if _, err := db.BorrowItem("R1", "B1", testTime); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	_, err := db.BorrowItem("R1", "B2", testTime.Add(time.Hour))
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("want ErrLimitReached, got %v", err)
	}

	it, _ := db.GetItem("B2")
	if it.AvailableCopies != 10 {
		t.Fatalf("rejected borrow changed stock: %d", it.AvailableCopies)
	}
	ok, err := db.CanBorrow("R1")
	if err != nil {
		t.Fatalf("can borrow: %v", err)
	}
	if ok {
		t.Fatalf("borrower at limit reported as able to borrow")
	}
}

// Scenario: returning a nonexistent loan id is rejected without touching
// catalog or roster state.
func TestReturnUnknownLoan(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 2}})

	if _, err := db.BorrowItem("R1", "B1", testTime); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := db.ReturnLoan(999, testTime.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	it, _ := db.GetItem("B1")
	if it.AvailableCopies != 1 {
		t.Fatalf("failed return changed stock: %d", it.AvailableCopies)
	}
	b, _ := db.GetBorrower("R1")
	if len(b.HeldItemIDs) != 1 {
		t.Fatalf("failed return changed held set: %v", b.HeldItemIDs)
	}
}

// Returning the same loan twice succeeds once and is rejected the second
// time with no further state change.
func TestDoubleReturn(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 2}})

	loan, err := db.BorrowItem("R1", "B1", testTime)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := db.ReturnLoan(loan.ID, testTime.Add(time.Hour)); err != nil {
		t.Fatalf("first return: %v", err)
	}

	err = db.ReturnLoan(loan.ID, testTime.Add(2*time.Hour))
	if !errors.Is(err, ErrAlreadyReturned) {
		t.Fatalf("want ErrAlreadyReturned, got %v", err)
	}

	it, _ := db.GetItem("B1")
	if it.AvailableCopies != 2 {
		t.Fatalf("second return changed stock: %d", it.AvailableCopies)
	}
	got, _ := db.GetLoan(loan.ID)
	if !got.ClosedAt.Equal(testTime.Add(time.Hour)) {
		t.Fatalf("second return changed closed time: %v", got.ClosedAt)
	}
}

func TestReturnBeforeIssueRejected(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 1}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 1}})

	loan, err := db.BorrowItem("R1", "B1", testTime)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	err = db.ReturnLoan(loan.ID, testTime.Add(-time.Hour))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if got, _ := db.GetLoan(loan.ID); got.Status != LoanStatusActive {
		t.Fatalf("rejected return closed the loan")
	}
}

// Loan ids are assigned in strictly increasing order of successful
// borrows, and a returned loan's id is never reused.
func TestLoanIDsMonotonic(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 5}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 5}})

	var last int64
	for i := 0; i < 3; i++ {
		loan, err := db.BorrowItem("R1", "B1", testTime.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
		if loan.ID <= last {
			t.Fatalf("loan id %d not greater than %d", loan.ID, last)
		}
		last = loan.ID
	}

	// Return one and borrow again: the freed id must not come back.
	if err := db.ReturnLoan(last, testTime.Add(24*time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}
	loan, err := db.BorrowItem("R1", "B1", testTime.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("borrow after return: %v", err)
	}
	if loan.ID <= last {
		t.Fatalf("loan id %d reused or out of order after %d", loan.ID, last)
	}
}

func TestActiveLoans(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 3}},
		[]Borrower{{ID: "R1", Name: "Alice", BorrowLimit: 3}})

	loan1, _ := db.BorrowItem("R1", "B1", testTime)
	loan2, _ := db.BorrowItem("R1", "B1", testTime.Add(time.Hour))
	if err := db.ReturnLoan(loan1.ID, testTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}

	active, err := db.ActiveLoans()
	if err != nil {
		t.Fatalf("active loans: %v", err)
	}
	if len(active) != 1 || active[0].ID != loan2.ID {
		t.Fatalf("want only loan %d active, got %+v", loan2.ID, active)
	}

	all, err := db.AllLoans()
	if err != nil {
		t.Fatalf("all loans: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("returned loan dropped from history: %d loans", len(all))
	}
}

// TestLastCopyRace checks that two concurrent borrows of the last copy
// resolve so that exactly one succeeds.
func TestLastCopyRace(t *testing.T) {
	db := tempDB(t)
	mustRegister(t, db,
		[]Item{{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 1}},
		[]Borrower{
			{ID: "R1", Name: "Alice", BorrowLimit: 1},
			{ID: "R2", Name: "Bob", BorrowLimit: 1},
		})

	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	go func() {
		_, err := db.BorrowItem("R1", "B1", testTime)
		done1 <- err
	}()
	go func() {
		_, err := db.BorrowItem("R2", "B1", testTime)
		done2 <- err
	}()

	err1 := <-done1
	err2 := <-done2

	if (err1 == nil) == (err2 == nil) {
		t.Fatalf("want exactly one success, got %v / %v", err1, err2)
	}
	failed := err1
	if failed == nil {
		failed = err2
	}
	if !errors.Is(failed, ErrNoCopiesAvailable) {
		t.Fatalf("want ErrNoCopiesAvailable for the loser, got %v", failed)
	}

	it, _ := db.GetItem("B1")
	if it.AvailableCopies != 0 {
		t.Fatalf("want 0 available after the race, got %d", it.AvailableCopies)
	}
	active, _ := db.ActiveLoans()
	if len(active) != 1 {
		t.Fatalf("want exactly one active loan, got %d", len(active))
	}
}
