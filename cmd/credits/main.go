package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"adstudio/internal/bootstrap"
	"adstudio/internal/domain"
	"adstudio/internal/infra"
)

const usage = `usage: credits <command> [flags]

commands:
  balance   -account ID                          show balance and freeze state
  adjust    -account ID -delta N -reason TEXT    add or remove credits
  freeze    -account ID -reason TEXT             halt reserve and adjust
  unfreeze  -account ID                          lift a freeze
  entries   -account ID                          print the audit trail`

// accounts is the ledger surface the CLI drives.
type accounts interface {
	EnsureAccount(ctx context.Context, accountID string, startingBalance int64) (*domain.Account, error)
	Balance(ctx context.Context, accountID string) (*domain.Account, error)
	Adjust(ctx context.Context, accountID string, delta int64, reason string) (*domain.Account, error)
	Freeze(ctx context.Context, accountID, reason string) error
	Unfreeze(ctx context.Context, accountID string) error
	Entries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		exitWithError(errors.New(usage))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "credits").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stack, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect: %w", err))
	}

	err = run(ctx, stack.Ledger, os.Args[1:], os.Stdout)
	stack.Close()
	if err != nil {
		exitWithError(err)
	}
}

func run(ctx context.Context, ledger accounts, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		accountID string
		delta     int64
		reason    string
		open      int64
	)
	fs.StringVar(&accountID, "account", "", "account id")
	fs.Int64Var(&delta, "delta", 0, "credits to add (negative to remove)")
	fs.StringVar(&reason, "reason", "", "audit reason")
	fs.Int64Var(&open, "open", -1, "open the account with this balance when it does not exist")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errors.New("-account is required")
	}
	reason = strings.TrimSpace(reason)

	if open >= 0 {
		if _, err := ledger.EnsureAccount(ctx, accountID, open); err != nil {
			return fmt.Errorf("open account: %w", err)
		}
	}

	switch cmd {
	case "balance":
		acct, err := ledger.Balance(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		printAccount(out, acct)
	case "adjust":
		if delta == 0 {
			return errors.New("-delta must be non-zero")
		}
		if reason == "" {
			return errors.New("-reason is required")
		}
		acct, err := ledger.Adjust(ctx, accountID, delta, reason)
		if err != nil {
			return fmt.Errorf("adjust: %w", err)
		}
		fmt.Fprintf(out, "Account %s adjusted by %+d\n", accountID, delta)
		printAccount(out, acct)
	case "freeze":
		if reason == "" {
			return errors.New("-reason is required")
		}
		if err := ledger.Freeze(ctx, accountID, reason); err != nil {
			return fmt.Errorf("freeze: %w", err)
		}
		fmt.Fprintf(out, "Account %s frozen\n", accountID)
	case "unfreeze":
		if err := ledger.Unfreeze(ctx, accountID); err != nil {
			return fmt.Errorf("unfreeze: %w", err)
		}
		fmt.Fprintf(out, "Account %s unfrozen\n", accountID)
	case "entries":
		entries, err := ledger.Entries(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load entries: %w", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tDELTA\tBALANCE\tREASON\tRESERVATION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%+d\t%d\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.Delta, e.BalanceAfter, e.Reason, e.ReservationID)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

func printAccount(out io.Writer, acct *domain.Account) {
	fmt.Fprintf(out, "balance=%d\n", acct.Balance)
	if acct.Frozen {
		fmt.Fprintf(out, "frozen=true reason=%q\n", acct.FrozenReason)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
