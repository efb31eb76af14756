// Command cli is a thin client for the notification logger daemon. It
// talks to the daemon's HTTP API so the daemon stays the single writer
// of the queue database.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/notification-logger/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		runStatus(log)
	case "pending":
		runPending(log)
	case "add-transaction":
		runAddTransaction(log)
	case "categorize":
		runCategorize(log)
	case "next":
		runNext(log)
	case "purge-uploaded":
		runPurge(log)
	case "consent":
		runConsent(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Notification Logger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  status           Show daemon, queue and sign-in state")
	fmt.Println("  pending          List queued notifications awaiting upload")
	fmt.Println("  add-transaction  Queue a manual transaction")
	fmt.Println("  categorize       Write a category to a sheet row")
	fmt.Println("  next             Find the next uncategorized sheet row")
	fmt.Println("  purge-uploaded   Delete already-uploaded queue records")
	fmt.Println("  consent          Accept or revoke the privacy consent")
	fmt.Println("  help             Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// client wraps the daemon API endpoint shared by every subcommand.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{
		base: addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *client) post(path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func addrFlag(fs *flag.FlagSet) *string {
	return fs.String("addr", "http://localhost:8080", "Daemon API address")
}

func runStatus(log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(os.Args[2:])

	var status struct {
		SignedIn            bool `json:"signed_in"`
		SheetConfigured     bool `json:"sheet_configured"`
		PrivacyAccepted     bool `json:"privacy_accepted"`
		PendingEvents       int  `json:"pending_events"`
		PendingTransactions int  `json:"pending_transactions"`
		ActivePrompts       int  `json:"active_prompts"`
	}
	if err := newClient(*addr).get("/api/status", &status); err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch status")
	}

	fmt.Printf("Signed in:            %v\n", status.SignedIn)
	fmt.Printf("Sheet configured:     %v\n", status.SheetConfigured)
	fmt.Printf("Privacy accepted:     %v\n", status.PrivacyAccepted)
	fmt.Printf("Pending events:       %d\n", status.PendingEvents)
	fmt.Printf("Pending transactions: %d\n", status.PendingTransactions)
	fmt.Printf("Active prompts:       %d\n", status.ActivePrompts)
}

func runPending(log zerolog.Logger) {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(os.Args[2:])

	var resp struct {
		Notifications []struct {
			ID        int64  `json:"id"`
			AppName   string `json:"app_name"`
			Title     string `json:"title"`
			Text      string `json:"text"`
			Timestamp int64  `json:"timestamp"`
		} `json:"notifications"`
		Count               int `json:"count"`
		PendingTransactions int `json:"pending_transactions"`
	}
	if err := newClient(*addr).get("/api/pending", &resp); err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch pending queue")
	}

	if resp.Count == 0 {
		fmt.Println("No pending notifications.")
	}
	for _, n := range resp.Notifications {
		ts := time.UnixMilli(n.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Printf("%6d  %s  %-20s %s\n", n.ID, ts, n.AppName, n.Title)
	}
	if resp.PendingTransactions > 0 {
		fmt.Printf("\n%d manual transaction(s) awaiting upload.\n", resp.PendingTransactions)
	}
}

func runAddTransaction(log zerolog.Logger) {
	fs := flag.NewFlagSet("add-transaction", flag.ExitOnError)
	addr := addrFlag(fs)
	account := fs.String("account", "", "Account name")
	amount := fs.String("amount", "", "Transaction amount (decimal)")
	currency := fs.String("currency", "", "Currency code, e.g. EUR")
	category := fs.String("category", "", "Category")
	comment := fs.String("comment", "", "Optional comment")
	fs.Parse(os.Args[2:])

	if *amount == "" || *currency == "" || *category == "" {
		log.Fatal().Msg("Error: --amount, --currency and --category are required")
	}
	// Validate locally for a friendlier error than the API's 400.
	if _, err := decimal.NewFromString(*amount); err != nil {
		log.Fatal().Str("amount", *amount).Msg("Error: amount is not a valid decimal")
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	err := newClient(*addr).post("/api/transactions", map[string]string{
		"account":  *account,
		"amount":   *amount,
		"currency": *currency,
		"category": *category,
		"comment":  *comment,
	}, &resp)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to queue transaction")
	}

	fmt.Printf("Transaction %d queued for upload.\n", resp.ID)
}

func runCategorize(log zerolog.Logger) {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	addr := addrFlag(fs)
	row := fs.Int("row", 0, "Sheet row number")
	category := fs.String("category", "", "Category to assign")
	comment := fs.String("comment", "", "Optional comment")
	next := fs.Bool("next", false, "Print the next uncategorized row after writing")
	fs.Parse(os.Args[2:])

	if *row < 1 || *category == "" {
		log.Fatal().Msg("Error: --row and --category are required")
	}

	body := map[string]interface{}{
		"row":      *row,
		"category": *category,
		"comment":  *comment,
	}
	if *next {
		body["next"] = "remote"
	}

	var resp struct {
		Next *nextItem `json:"next"`
	}
	if err := newClient(*addr).post("/api/categorize", body, &resp); err != nil {
		log.Fatal().Err(err).Msg("Failed to write category")
	}

	fmt.Printf("Row %d categorized as %s.\n", *row, *category)
	if *next {
		printNextItem(resp.Next)
	}
}

type nextItem struct {
	RowNumber int    `json:"row_number"`
	AppName   string `json:"app_name"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

func printNextItem(item *nextItem) {
	if item == nil {
		fmt.Println("Nothing left to categorize.")
		return
	}
	fmt.Printf("Next: row %d  %s  %s", item.RowNumber, item.AppName, item.Title)
	if item.Text != "" {
		fmt.Printf("  (%s)", item.Text)
	}
	fmt.Println()
}

func runNext(log zerolog.Logger) {
	fs := flag.NewFlagSet("next", flag.ExitOnError)
	addr := addrFlag(fs)
	from := fs.Int("from", 0, "Start scanning after this row")
	fs.Parse(os.Args[2:])

	var resp struct {
		Next *nextItem `json:"next"`
	}
	path := "/api/categorize/next?from=" + url.QueryEscape(fmt.Sprint(*from))
	if err := newClient(*addr).get(path, &resp); err != nil {
		log.Fatal().Err(err).Msg("Failed to scan for uncategorized rows")
	}

	printNextItem(resp.Next)
}

func runPurge(log zerolog.Logger) {
	fs := flag.NewFlagSet("purge-uploaded", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(os.Args[2:])

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := newClient(*addr).post("/api/purge", nil, &resp); err != nil {
		log.Fatal().Err(err).Msg("Failed to purge uploaded records")
	}

	fmt.Printf("Deleted %d uploaded record(s).\n", resp.Deleted)
}

func runConsent(log zerolog.Logger) {
	fs := flag.NewFlagSet("consent", flag.ExitOnError)
	addr := addrFlag(fs)
	revoke := fs.Bool("revoke", false, "Revoke consent instead of accepting")
	fs.Parse(os.Args[2:])

	accepted := !*revoke
	if err := newClient(*addr).post("/api/consent", map[string]bool{"accepted": accepted}, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to update consent")
	}

	if accepted {
		fmt.Println("Privacy consent accepted. Capture enabled.")
	} else {
		fmt.Println("Privacy consent revoked. Capture disabled.")
	}
}
