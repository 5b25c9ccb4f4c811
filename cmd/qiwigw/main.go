package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mattjoyce/qiwigo/internal/config"
)

const version = "0.3.0"

// defaultConfigPath is used when neither --config nor QIWIGW_CONFIG is set.
const defaultConfigPath = "qiwigw.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "webhook":
		return runWebhookNoun(rest)
	case "config":
		return runConfigNoun(rest)
	case "wallet":
		return runWalletNoun(rest)
	case "p2p":
		return runP2PNoun(rest)
	case "maps":
		return runMapsNoun(rest)

	case "serve":
		return runServe(rest)
	case "version":
		fmt.Printf("qiwigw version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`qiwigw - QIWI API client and webhook gateway

Usage:
  qiwigw <noun> <action> [flags]

Nouns:
  webhook   Receive and register QIWI webhooks
  config    Configuration validation and integrity
  wallet    Wallet API calls
  p2p       P2P bills API calls
  maps      Terminal locator API calls

Webhook Commands:
  webhook serve              Run the webhook receiver in the foreground
  webhook bind <url>         Register <url> as the wallet hook and print its key

Config Commands:
  config check               Validate syntax, policy, and integrity
  config lock                Authorize current state (update integrity hashes)

Wallet Commands:
  wallet balances            List wallet accounts
  wallet history             Show recent transactions

P2P Commands:
  p2p bill <id>              Show a bill
  p2p create --amount N      Issue a bill
  p2p reject <id>            Reject an unpaid bill

Maps Commands:
  maps partners              List terminal partner groups

General:
  version                    Show version information
  help                       Show this help message

Every command accepts --config PATH (default $QIWIGW_CONFIG or ./qiwigw.yaml).
A .env file next to the config is loaded before ${VAR} interpolation.
`)
}

type action struct {
	run  func(args []string) int
	help string
}

func runNoun(noun string, args []string, actions map[string]action) int {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	slices.Sort(names)
	usage := func(w *os.File) {
		fmt.Fprintf(w, "Usage: qiwigw %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}

	if len(args) < 1 {
		usage(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		usage(os.Stdout)
		return 0
	}

	a, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	if hasHelpFlag(args[1:]) {
		fmt.Println(a.help)
		return 0
	}
	return a.run(args[1:])
}

func runWebhookNoun(args []string) int {
	return runNoun("webhook", args, map[string]action{
		"serve": {runServe, "Usage: qiwigw webhook serve [--config PATH]\nRun the webhook receiver in the foreground."},
		"bind":  {runWebhookBind, "Usage: qiwigw webhook bind <url> [--config PATH] [--replace] [--test]\nRegister <url> as the wallet hook and print its signing key."},
	})
}

func runConfigNoun(args []string) int {
	return runNoun("config", args, map[string]action{
		"check": {runConfigCheck, "Usage: qiwigw config check [--config PATH] [--json]\nValidate configuration syntax, policy, and integrity."},
		"lock":  {runConfigLock, "Usage: qiwigw config lock [--config PATH] [-v|--verbose] [--dry-run]\nAuthorize the current configuration by regenerating integrity hashes."},
	})
}

func runWalletNoun(args []string) int {
	return runNoun("wallet", args, map[string]action{
		"balances": {runWalletBalances, "Usage: qiwigw wallet balances [--config PATH] [--json]\nList wallet accounts and balances."},
		"history":  {runWalletHistory, "Usage: qiwigw wallet history [--config PATH] [--rows N] [--operation ALL|IN|OUT|QIWI_CARD] [--json]\nShow recent transactions."},
	})
}

func runP2PNoun(args []string) int {
	return runNoun("p2p", args, map[string]action{
		"bill":   {runP2PBill, "Usage: qiwigw p2p bill <id> [--config PATH] [--json]\nShow a bill and its status."},
		"create": {runP2PCreate, "Usage: qiwigw p2p create --amount N [--id ID] [--comment TEXT] [--lifetime 72h] [--config PATH] [--json]\nIssue a bill and print its payment URL."},
		"reject": {runP2PReject, "Usage: qiwigw p2p reject <id> [--config PATH] [--json]\nReject an unpaid bill."},
	})
}

func runMapsNoun(args []string) int {
	return runNoun("maps", args, map[string]action{
		"partners": {runMapsPartners, "Usage: qiwigw maps partners [--config PATH] [--json]\nList terminal partner groups."},
	})
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitPositional separates leading positional arguments from flags so that
// both `bill <id> --json` and `bill --json <id>` parse.
func splitPositional(args []string, n int) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") || len(positional) == n {
			flags = append(flags, arg)
			// A flag given as "--name value" keeps its value with it.
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(arg) {
				i++
				flags = append(flags, args[i])
			}
			continue
		}
		positional = append(positional, arg)
	}
	return positional, flags
}

var boolFlags = map[string]bool{
	"json": true, "v": true, "verbose": true, "dry-run": true, "replace": true, "test": true,
}

func isBoolFlag(arg string) bool {
	return boolFlags[strings.TrimLeft(arg, "-")]
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	return fs, configPath
}

func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("QIWIGW_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

// loadConfig loads the .env next to the config, then the config itself.
// Variables already set in the environment win over .env entries.
func loadConfig(configPath string) (*config.Config, error) {
	path := resolveConfigPath(configPath)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load(path)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
