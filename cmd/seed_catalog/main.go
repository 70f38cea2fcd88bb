package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"lending-inventory/lending"
)

// seedFile is the on-disk format the setup collaborator consumes: the
// initial catalog and roster records, validated by the engine's
// registration rules.
type seedFile struct {
	Items     []lending.Item     `json:"items"`
	Borrowers []lending.Borrower `json:"borrowers"`
}

// defaultSeed mirrors the demo data set: three titles, two borrowers.
func defaultSeed() seedFile {
	return seedFile{
		Items: []lending.Item{
			{ID: "B1", Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 2},
			{ID: "B2", Title: "The Pragmatic Programmer", Author: "Andrew Hunt", TotalCopies: 1},
			{ID: "B3", Title: "Refactoring", Author: "Martin Fowler", TotalCopies: 1},
		},
		Borrowers: []lending.Borrower{
			{ID: "R1", Name: "Alice", BorrowLimit: 2},
			{ID: "R2", Name: "Bob", BorrowLimit: 1},
		},
	}
}

func main() {
	dbPath := flag.String("db", "lending.db", "path to the SQLite database")
	seedPath := flag.String("seed", "", "JSON file with items and borrowers (built-in demo data if empty)")
	fresh := flag.Bool("fresh", false, "remove any existing database files first")
	flag.Parse()

	if *fresh {
		fmt.Println("Cleaning up existing database files...")
		dbFiles := []string{*dbPath, *dbPath + "-shm", *dbPath + "-wal"}
		for _, file := range dbFiles {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
		fmt.Println("Database cleanup complete.")
	}

	seed := defaultSeed()
	if *seedPath != "" {
		data, err := os.ReadFile(*seedPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading seed file: %v\n", err)
			os.Exit(1)
		}
		seed = seedFile{}
		if err := json.Unmarshal(data, &seed); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing seed file: %v\n", err)
			os.Exit(1)
		}
	}

	engine, err := lending.NewEngine(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	successCount := 0
	errorCount := 0

	fmt.Printf("Registering %d items...\n", len(seed.Items))
	for _, item := range seed.Items {
		fmt.Printf("Registering: %s by %s... ", item.Title, item.Author)
		if err := engine.RegisterItem(item); err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %s)\n", item.ID)
		successCount++
	}

	fmt.Printf("Registering %d borrowers...\n", len(seed.Borrowers))
	for _, b := range seed.Borrowers {
		fmt.Printf("Registering: %s (limit %d)... ", b.Name, b.BorrowLimit)
		if err := engine.RegisterBorrower(b); err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %s)\n", b.ID)
		successCount++
	}

	fmt.Printf("\nSeed complete!\n")
	fmt.Printf("Successfully registered: %d records\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount > 0 {
		fmt.Println("\nCatalog:")
		items, err := engine.AllItems()
		if err != nil {
			fmt.Printf("Error retrieving items: %v\n", err)
			return
		}
		fmt.Printf("%-8s %-40s %-25s %s\n", "ID", "Title", "Author", "Copies")
		fmt.Println(strings.Repeat("-", 85))
		for _, it := range items {
			fmt.Printf("%-8s %-40s %-25s %d/%d\n", it.ID, it.Title, it.Author, it.AvailableCopies, it.TotalCopies)
		}
	}
}
