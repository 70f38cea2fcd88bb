package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lending-inventory/lending"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:           "lending-inventory",
		Short:         "Copy-counted lending inventory with borrower limits and loan history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "lending.db", "path to the SQLite database")

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Interactive shell for registration, circulation and reporting",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runShell()
			},
		},
		&cobra.Command{
			Use:   "report",
			Short: "Print the current status report",
			RunE: func(cmd *cobra.Command, args []string) error {
				engine, err := lending.NewEngine(dbPath)
				if err != nil {
					return err
				}
				defer engine.Close()
				return printReport(engine)
			},
		},
		&cobra.Command{
			Use:   "scenario",
			Short: "Run the demo lending scenario against a throwaway database",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runScenario()
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// readPassword securely reads a password with masking.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// authenticateBorrower prompts for and verifies borrower credentials.
func authenticateBorrower(engine *lending.Engine, borrowerID string) error {
	password, err := readPassword("Enter your password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	return engine.AuthenticateBorrower(borrowerID, password)
}

// reportError prints a rejected operation, distinguishing internal
// consistency failures from ordinary rejections.
func reportError(context string, err error) {
	if errors.Is(err, lending.ErrInvariant) {
		fmt.Fprintf(os.Stderr, "FATAL %s: %v\n", context, err)
		return
	}
	fmt.Printf("Error %s: %v\n", context, err)
}

func runShell() error {
	engine, err := lending.NewEngine(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer engine.Close()

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Lending inventory shell.")
	fmt.Println("Available commands:")
	fmt.Println("  Catalog: add item, list items")
	fmt.Println("  Roster: add borrower, list borrowers, reset password")
	fmt.Println("  Circulation: borrow, return, list loans")
	fmt.Println("  Reporting: report")
	fmt.Println("  System: exit")

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		cmd := strings.TrimSpace(scanner.Text())

		switch cmd {
		case "add item":
			handleAddItem(scanner, engine)
		case "add borrower":
			handleAddBorrower(scanner, engine)
		case "list items":
			handleListItems(engine)
		case "list borrowers":
			handleListBorrowers(engine)
		case "borrow":
			handleBorrow(scanner, engine)
		case "return":
			handleReturn(scanner, engine)
		case "list loans":
			handleListLoans(engine)
		case "report":
			if err := printReport(engine); err != nil {
				reportError("building report", err)
			}
		case "reset password":
			handleResetPassword(scanner, engine)
		case "exit":
			fmt.Println("Goodbye!")
			return nil
		default:
			fmt.Println("Unknown command. Type one of the available commands listed above.")
		}
	}
	return nil
}

func prompt(sc *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

func handleAddItem(sc *bufio.Scanner, engine *lending.Engine) {
	id, ok := prompt(sc, "Item ID: ")
	if !ok {
		return
	}
	title, ok := prompt(sc, "Title: ")
	if !ok {
		return
	}
	author, ok := prompt(sc, "Author: ")
	if !ok {
		return
	}
	copiesStr, ok := prompt(sc, "Total copies: ")
	if !ok {
		return
	}
	copies, err := strconv.Atoi(copiesStr)
	if err != nil {
		fmt.Printf("Invalid copy count: %s\n", copiesStr)
		return
	}

	item := lending.Item{ID: id, Title: title, Author: author, TotalCopies: copies}
	if err := engine.RegisterItem(item); err != nil {
		reportError("adding item", err)
		return
	}
	fmt.Printf("Added item %q with %d copies.\n", id, copies)
}

func handleAddBorrower(sc *bufio.Scanner, engine *lending.Engine) {
	id, ok := prompt(sc, "Borrower ID: ")
	if !ok {
		return
	}
	name, ok := prompt(sc, "Name: ")
	if !ok {
		return
	}
	limitStr, ok := prompt(sc, "Borrow limit: ")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		fmt.Printf("Invalid borrow limit: %s\n", limitStr)
		return
	}

	b := lending.Borrower{ID: id, Name: name, BorrowLimit: limit}
	if err := engine.RegisterBorrower(b); err != nil {
		reportError("adding borrower", err)
		return
	}

	password, err := readPassword(fmt.Sprintf("Enter password for %s: ", name))
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	if password != "" {
		if err := engine.SetBorrowerPassword(id, password); err != nil {
			reportError("setting password", err)
			return
		}
	}
	fmt.Printf("Added borrower %q with limit %d.\n", id, limit)
}

func handleResetPassword(sc *bufio.Scanner, engine *lending.Engine) {
	id, ok := prompt(sc, "Borrower ID: ")
	if !ok {
		return
	}
	b, err := engine.GetBorrower(id)
	if err != nil {
		reportError("looking up borrower", err)
		return
	}

	password, err := readPassword(fmt.Sprintf("Enter new password for %s (ID: %s): ", b.Name, id))
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	if err := engine.SetBorrowerPassword(id, password); err != nil {
		reportError("resetting password", err)
		return
	}
	fmt.Printf("Password successfully reset for %s (ID: %s)\n", b.Name, id)
}

func handleListItems(engine *lending.Engine) {
	items, err := engine.AllItems()
	if err != nil {
		reportError("listing items", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("No items in catalog.")
		return
	}

	fmt.Printf("%-8s %-30s %-25s %s\n", "ID", "Title", "Author", "Available")
	fmt.Println(strings.Repeat("-", 75))
	for _, it := range items {
		fmt.Println(lending.PrettyItem(it))
	}
}

func handleListBorrowers(engine *lending.Engine) {
	borrowers, err := engine.AllBorrowers()
	if err != nil {
		reportError("listing borrowers", err)
		return
	}
	if len(borrowers) == 0 {
		fmt.Println("No borrowers registered.")
		return
	}

	fmt.Printf("%-8s %-30s %-8s %-10s %s\n", "ID", "Name", "Limit", "Held", "Password Set")
	fmt.Println(strings.Repeat("-", 70))
	for _, b := range borrowers {
		full, err := engine.GetBorrower(b.ID)
		held := 0
		if err == nil {
			held = len(full.HeldItemIDs)
		}
		passwordStatus := "No"
		if b.PasswordHash != "" {
			passwordStatus = "Yes"
		}
		fmt.Printf("%-8s %-30s %-8d %-10d %s\n", b.ID, b.Name, b.BorrowLimit, held, passwordStatus)
	}
}

func handleBorrow(sc *bufio.Scanner, engine *lending.Engine) {
	borrowerID, ok := prompt(sc, "Borrower ID: ")
	if !ok {
		return
	}
	itemID, ok := prompt(sc, "Item ID: ")
	if !ok {
		return
	}

	if err := authenticateBorrower(engine, borrowerID); err != nil {
		fmt.Printf("Authentication failed: %v\n", err)
		return
	}

	loan, err := engine.Borrow(borrowerID, itemID, time.Now())
	if err != nil {
		reportError("borrowing item", err)
		return
	}

	b, _ := engine.GetBorrower(borrowerID)
	item, _ := engine.GetItem(itemID)
	fmt.Printf("Loan %d: %q borrowed by %s (%d/%d copies left)\n",
		loan.ID, item.Title, b.Name, item.AvailableCopies, item.TotalCopies)
}

func handleReturn(sc *bufio.Scanner, engine *lending.Engine) {
	loanIDStr, ok := prompt(sc, "Loan ID: ")
	if !ok {
		return
	}
	loanID, err := strconv.ParseInt(loanIDStr, 10, 64)
	if err != nil {
		fmt.Printf("Invalid loan ID: %s\n", loanIDStr)
		return
	}

	loan, err := engine.GetLoan(loanID)
	if err != nil {
		reportError("looking up loan", err)
		return
	}

	if err := authenticateBorrower(engine, loan.BorrowerID); err != nil {
		fmt.Printf("Authentication failed: %v\n", err)
		return
	}

	if err := engine.Return(loanID, time.Now()); err != nil {
		reportError("returning loan", err)
		return
	}

	item, _ := engine.GetItem(loan.ItemID)
	fmt.Printf("Loan %d closed: %q is back in stock (%d/%d copies available)\n",
		loanID, item.Title, item.AvailableCopies, item.TotalCopies)
}

func handleListLoans(engine *lending.Engine) {
	loans, err := engine.AllLoans()
	if err != nil {
		reportError("listing loans", err)
		return
	}
	if len(loans) == 0 {
		fmt.Println("No loans recorded.")
		return
	}

	fmt.Printf("%-6s %-10s %-12s %-10s %-22s %s\n", "ID", "Item", "Borrower", "Status", "Issued", "Closed")
	fmt.Println(strings.Repeat("-", 85))
	for _, l := range loans {
		closed := "-"
		if l.ClosedAt != nil {
			closed = l.ClosedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-6d %-10s %-12s %-10s %-22s %s\n",
			l.ID, l.ItemID, l.BorrowerID, l.Status, l.IssuedAt.Format("2006-01-02 15:04"), closed)
	}
}

// printReport renders the structured status report as text, in the shape
// the engine's report view suggests: catalog lines sorted by title, then
// the active loans as "name -> title".
func printReport(engine *lending.Engine) error {
	report, err := engine.StatusReport()
	if err != nil {
		return err
	}

	fmt.Println("LIBRARY STATUS REPORT")
	fmt.Println()
	for _, it := range report.Items {
		fmt.Printf("%s: %d / %d available\n", it.Title, it.AvailableCopies, it.TotalCopies)
	}
	fmt.Println()
	fmt.Println("ACTIVE LOANS")
	if len(report.ActiveLoans) == 0 {
		fmt.Println("(No active loans)")
		return nil
	}
	for _, l := range report.ActiveLoans {
		fmt.Printf("%s -> %s\n", l.BorrowerName, l.ItemTitle)
	}
	return nil
}

// runScenario replays the demo lending flow on an in-memory database:
// Alice (limit 2) takes both copies of "Clean Code", Bob (limit 1) is
// turned away, Alice returns her first copy, and the final report prints.
func runScenario() error {
	engine, err := lending.NewEngine(":memory:")
	if err != nil {
		return err
	}
	defer engine.Close()

	items := []lending.Item{
		{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2},
		{ID: "B2", Title: "The Pragmatic Programmer", Author: "Andrew Hunt", TotalCopies: 1},
		{ID: "B3", Title: "Refactoring", Author: "Martin Fowler", TotalCopies: 1},
	}
	borrowers := []lending.Borrower{
		{ID: "R1", Name: "Alice", BorrowLimit: 2},
		{ID: "R2", Name: "Bob", BorrowLimit: 1},
	}
	if err := engine.Seed(items, borrowers); err != nil {
		return err
	}

	when := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	borrow := func(borrowerID, itemID string) *lending.Loan {
		loan, err := engine.Borrow(borrowerID, itemID, when)
		when = when.Add(time.Hour)
		if err != nil {
			fmt.Printf("BORROW FAILED: %s cannot borrow %s (%v)\n", borrowerID, itemID, err)
			return nil
		}
		fmt.Printf("BORROW OK: loan %d, %s borrowed %s\n", loan.ID, borrowerID, itemID)
		return loan
	}

	loan1 := borrow("R1", "B1")
	borrow("R1", "B1")
	borrow("R2", "B1")

	if loan1 != nil {
		if err := engine.Return(loan1.ID, when); err != nil {
			fmt.Printf("RETURN FAILED: %v\n", err)
		} else {
			fmt.Printf("RETURN OK: loan %d closed\n", loan1.ID)
		}
	}

	fmt.Println()
	return printReport(engine)
}
