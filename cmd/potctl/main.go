// potctl is the maintenance tool for the encrypted ledger file: initialize
// a new store, inspect its status, print account balances and move raw
// backups in and out. The conversational front-end is a separate program;
// this one only talks to the file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/avoronin/potledger/internal/books"
	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/config"
	"github.com/avoronin/potledger/internal/flagx"
	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/logging"
	"github.com/avoronin/potledger/internal/store"
	"golang.org/x/term"
)

// readSecret prompts on stderr and reads the secret without echo. A test
// seam: tests replace it to avoid a real terminal.
var readSecret = func(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(syscall.Stdin))
}

type command struct {
	doInit     bool
	status     bool
	balance    string
	exportPath string
	importPath string
}

func parseCommand(args []string) command {
	var cmd command

	args = flagx.FilterArgs(args, []string{"-init", "-status", "-balance", "-export", "-import"})

	fs := flag.NewFlagSet("potctl", flag.ContinueOnError)
	fs.BoolVar(&cmd.doInit, "init", false, "Initialize a new store")
	fs.BoolVar(&cmd.status, "status", false, "Show store status")
	fs.StringVar(&cmd.balance, "balance", "", "Print an account balance, e.g. customer:1 or owner")
	fs.StringVar(&cmd.exportPath, "export", "", "Write the raw encrypted snapshot to a file")
	fs.StringVar(&cmd.importPath, "import", "", "Replace the snapshot from a raw backup file")
	_ = fs.Parse(args)

	return cmd
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	log := logging.NewText(os.Stderr, parseLevel(cfg.LogLevel))

	if err := run(cfg, parseCommand(os.Args[1:]), log); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg *config.Config, cmd command, log logging.Logger) error {
	st := store.New(store.Options{
		Path:            cfg.DBPath,
		AutoLockTimeout: cfg.AutoLockTimeout.Duration,
		Logger:          log,
	})

	switch {
	case cmd.doInit:
		return runInit(st)
	case cmd.status:
		return runStatus(st)
	case cmd.balance != "":
		return runBalance(st, log, cmd.balance)
	case cmd.exportPath != "":
		return runExport(st, cmd.exportPath)
	case cmd.importPath != "":
		return runImport(st, cmd.importPath)
	default:
		return errors.New("one of -init, -status, -balance, -export or -import is required")
	}
}

func runInit(st *store.Store) error {
	secret, err := readSecret("New secret: ")
	if err != nil {
		return err
	}
	confirm, err := readSecret("Repeat secret: ")
	if err != nil {
		return err
	}
	if string(secret) != string(confirm) {
		return errors.New("secrets do not match")
	}
	common.WipeByteArray(confirm)
	defer common.WipeByteArray(secret)

	if err := st.Init(secret); err != nil {
		return err
	}
	fmt.Printf("initialized %s\n", st.Path())
	return nil
}

func unlock(st *store.Store) error {
	secret, err := readSecret("Secret: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)
	return st.Unlock(secret)
}

func runStatus(st *store.Store) error {
	if err := unlock(st); err != nil {
		if errors.Is(err, common.ErrNotInitialized) {
			fmt.Printf("%s: not initialized\n", st.Path())
			return nil
		}
		return err
	}
	defer st.Lock()

	snap, err := st.Snapshot()
	if err != nil {
		return err
	}

	fmt.Printf("%s: unlocked ok\n", st.Path())
	for name, tbl := range snap {
		fmt.Printf("  %-20s %d records\n", name, len(tbl))
	}
	return nil
}

// parseAccount turns "customer:1", "store:2" or "owner" into a ledger
// address.
func parseAccount(spec string) (ledger.Account, error) {
	if spec == "owner" || spec == "owner:"+ledger.PotAccountID {
		return ledger.OwnerPot(), nil
	}

	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return ledger.Account{}, fmt.Errorf("bad account spec %q, want type:id", spec)
	}

	switch t := ledger.AccountType(parts[0]); t {
	case ledger.AccountCustomer, ledger.AccountPartner, ledger.AccountStore, ledger.AccountPartnerDividends:
		return ledger.Account{Type: t, ID: parts[1]}, nil
	default:
		return ledger.Account{}, fmt.Errorf("unknown account type %q", parts[0])
	}
}

func runBalance(st *store.Store, log logging.Logger, spec string) error {
	acct, err := parseAccount(spec)
	if err != nil {
		return err
	}

	if err := unlock(st); err != nil {
		return err
	}
	defer st.Lock()

	svc := books.NewService(st, log)
	balance, err := svc.Ledger().Balance(acct)
	if err != nil {
		return err
	}
	fmt.Printf("%s:%s %s\n", acct.Type, acct.ID, balance)
	return nil
}

func runExport(st *store.Store, path string) error {
	raw, err := st.ExportRaw()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return err
	}
	fmt.Printf("exported %d bytes to %s\n", len(raw), path)
	return nil
}

func runImport(st *store.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// the import must still decrypt with the user's secret before we accept it
	if err := st.ImportRaw(raw); err != nil {
		return err
	}
	if err := unlock(st); err != nil {
		return fmt.Errorf("imported snapshot rejected: %w", err)
	}
	st.Lock()
	fmt.Printf("imported %d bytes from %s\n", len(raw), path)
	return nil
}
