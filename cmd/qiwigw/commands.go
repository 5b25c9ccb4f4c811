package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mattjoyce/qiwigo/internal/config"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/maps"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/p2p"
	"github.com/mattjoyce/qiwigo/internal/request"
	"github.com/mattjoyce/qiwigo/internal/transport"
	"github.com/mattjoyce/qiwigo/internal/wallet"
	"github.com/mattjoyce/qiwigo/internal/webhook"
)

// requestConfig maps the client section onto per-client request settings.
func requestConfig(cfg *config.Config, component string, m *metrics.Metrics) request.Config {
	var opts []transport.Option
	if !cfg.Client.Persistent() {
		opts = append(opts, transport.WithoutPersistentSession())
	}
	return request.Config{
		CacheTTL: cfg.Client.CacheTTL,
		Timeout:  cfg.Client.Timeout,
		Session:  transport.NewSession(cfg.Client.Timeout, opts...),
		Logger:   log.WithComponent(component),
		Metrics:  m,
	}
}

// setupCLILogging keeps one-shot commands quiet unless the config asks for debug.
func setupCLILogging(cfg *config.Config) {
	level := "warn"
	if cfg.Service.LogLevel == "debug" {
		level = "debug"
	}
	log.SetupWriter(level, "text", os.Stderr)
}

func runConfigCheck(args []string) int {
	fs, configPath := newFlagSet("check")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if *jsonOut {
			printJSON(map[string]any{"valid": false, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		}
		return 1
	}
	wc, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	summary := map[string]any{
		"valid":            true,
		"config":           cfg.SourcePath,
		"wallet":           cfg.Wallet.Token != "",
		"p2p":              cfg.P2P.SecretKey != "",
		"transaction_path": wc.TransactionPath,
		"bill_path":        wc.BillPath,
		"allowed_networks": len(wc.AllowedNetworks),
		"delivery_backend": cfg.Delivery.Backend,
		"handlers":         len(cfg.Handlers),
	}
	if *jsonOut {
		return printJSON(summary)
	}

	fmt.Printf("Config: %s\n", cfg.SourcePath)
	fmt.Printf("  wallet client:    %s\n", enabled(cfg.Wallet.Token != ""))
	fmt.Printf("  p2p client:       %s\n", enabled(cfg.P2P.SecretKey != ""))
	fmt.Printf("  webhook listen:   %s\n", wc.Listen)
	fmt.Printf("  allowed networks: %d\n", len(wc.AllowedNetworks))
	fmt.Printf("  delivery backend: %s\n", cfg.Delivery.Backend)
	fmt.Printf("  handlers:         %d\n", len(cfg.Handlers))
	fmt.Println("Status: Configuration check PASSED.")
	return 0
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func runConfigLock(args []string) int {
	fs, configPath := newFlagSet("lock")
	var verbose, verboseShort, dryRun bool
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report, err := config.Lock(resolveConfigPath(*configPath), dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		for _, file := range report.Files {
			if file.Exists {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found (optional)\n", file.Filename)
		}
	}
	if dryRun {
		fmt.Printf("Dry run: %s not written\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return 0
}

func runWebhookBind(args []string) int {
	positional, flags := splitPositional(args, 1)
	fs, configPath := newFlagSet("bind")
	replace := fs.Bool("replace", false, "Delete the current hook first")
	test := fs.Bool("test", false, "Send a test notification after binding")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: qiwigw webhook bind <url> [--config PATH] [--replace] [--test]")
		return 1
	}

	client, code := walletFromFlags(*configPath)
	if client == nil {
		return code
	}
	defer client.Close()

	hook, key, err := client.BindWebhook(context.Background(), positional[0], wallet.BindOptions{
		TxnType:         wallet.HookAll,
		SendTest:        *test,
		ReplaceExisting: *replace,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bind failed: %v\n", err)
		return 1
	}
	fmt.Printf("hook_id: %s\nurl:     %s\nkey:     %s\n", hook.ID, hook.Parameters.URL, key)
	return 0
}

func walletFromFlags(configPath string) (*wallet.Client, int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	setupCLILogging(cfg)
	client, err := newWalletClient(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Wallet client error: %v\n", err)
		return nil, 1
	}
	return client, 0
}

func runWalletBalances(args []string) int {
	fs, configPath := newFlagSet("balances")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	client, code := walletFromFlags(*configPath)
	if client == nil {
		return code
	}
	defer client.Close()

	balances, err := client.Balances(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(balances)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tAMOUNT\tCURRENCY\tDEFAULT")
	for _, b := range balances {
		amount, currency := "-", string(b.Currency)
		if b.Balance != nil {
			amount = b.Balance.Amount.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", b.Alias, amount, currency, b.DefaultAccount)
	}
	_ = tw.Flush()
	return 0
}

func runWalletHistory(args []string) int {
	fs, configPath := newFlagSet("history")
	rows := fs.Int("rows", 10, "Number of transactions")
	operation := fs.String("operation", string(wallet.OperationAll), "ALL, IN, OUT or QIWI_CARD")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	client, code := walletFromFlags(*configPath)
	if client == nil {
		return code
	}
	defer client.Close()

	history, err := client.History(context.Background(), wallet.HistoryFilter{
		Rows:      *rows,
		Operation: wallet.Operation(*operation),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(history)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TXN\tDATE\tTYPE\tSTATUS\tAMOUNT\tACCOUNT")
	for _, txn := range history.Transactions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			txn.ID, txn.Date.Format(time.DateTime), txn.Type, txn.Status, txn.Sum.Amount, txn.Account)
	}
	_ = tw.Flush()
	return 0
}

func p2pFromFlags(configPath string) (*p2p.Client, int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	setupCLILogging(cfg)
	client, err := p2p.New(p2p.Config{
		SecretKey: cfg.P2P.SecretKey,
		BaseURL:   cfg.P2P.BaseURL,
		Request:   requestConfig(cfg, "p2p", nil),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "P2P client error: %v\n", err)
		return nil, 1
	}
	return client, 0
}

func printBill(bill *event.Bill, jsonOut bool) int {
	if jsonOut {
		return printJSON(bill)
	}
	fmt.Printf("bill:    %s\n", bill.ID)
	fmt.Printf("status:  %s\n", bill.Status.Value)
	fmt.Printf("amount:  %s %s\n", bill.Amount.Value, bill.Amount.Currency)
	if bill.ExpirationDateTime != nil {
		fmt.Printf("expires: %s\n", bill.ExpirationDateTime.Format(time.RFC3339))
	}
	if bill.PayURL != "" {
		fmt.Printf("pay_url: %s\n", bill.PayURL)
	}
	return 0
}

func runP2PBill(args []string) int {
	return runP2PByID("bill", args, func(ctx context.Context, c *p2p.Client, id string) (*event.Bill, error) {
		return c.BillStatus(ctx, id)
	})
}

func runP2PReject(args []string) int {
	return runP2PByID("reject", args, func(ctx context.Context, c *p2p.Client, id string) (*event.Bill, error) {
		return c.RejectBill(ctx, id)
	})
}

func runP2PByID(name string, args []string, call func(context.Context, *p2p.Client, string) (*event.Bill, error)) int {
	positional, flags := splitPositional(args, 1)
	fs, configPath := newFlagSet(name)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: qiwigw p2p %s <id> [--config PATH] [--json]\n", name)
		return 1
	}

	client, code := p2pFromFlags(*configPath)
	if client == nil {
		return code
	}
	defer client.Close()

	bill, err := call(context.Background(), client, positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	return printBill(bill, *jsonOut)
}

func runP2PCreate(args []string) int {
	fs, configPath := newFlagSet("create")
	amount := fs.String("amount", "", "Bill amount, e.g. 100.50")
	id := fs.String("id", "", "Bill id (default: random UUID)")
	comment := fs.String("comment", "", "Comment shown to the payer")
	lifetime := fs.Duration("lifetime", p2p.DefaultLifetime, "How long the bill stays payable")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	value, err := decimal.NewFromString(*amount)
	if err != nil || !value.IsPositive() {
		fmt.Fprintf(os.Stderr, "--amount must be a positive number (got %q)\n", *amount)
		return 1
	}

	client, code := p2pFromFlags(*configPath)
	if client == nil {
		return code
	}
	defer client.Close()

	bill, err := client.CreateBill(context.Background(), p2p.BillRequest{
		ID:        *id,
		Amount:    value,
		ExpiresAt: time.Now().Add(*lifetime),
		Comment:   *comment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	return printBill(bill, *jsonOut)
}

func runMapsPartners(args []string) int {
	fs, configPath := newFlagSet("partners")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	setupCLILogging(cfg)

	client := maps.New(maps.Config{
		BaseURL: cfg.Wallet.BaseURL,
		Request: requestConfig(cfg, "maps", nil),
	})
	defer client.Close()

	partners, err := client.Partners(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(partners)
	}
	for _, p := range partners {
		fmt.Printf("%s\t%s\n", p.ID, p.Title)
	}
	return 0
}
