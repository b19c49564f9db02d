package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/welth/internal/app"
	"github.com/dvloznov/welth/internal/archive"
	"github.com/dvloznov/welth/internal/config"
	"github.com/dvloznov/welth/internal/identity"
	"github.com/dvloznov/welth/internal/ledger"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/dvloznov/welth/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "account":
		runAccount(log)
	case "delete":
		runDelete(log)
	case "default":
		runDefault(log)
	case "seed":
		runSeed(log)
	case "archive-show":
		runArchiveShow(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Welth CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  account       Show an account with its transactions")
	fmt.Println("  delete        Bulk-delete transactions and reconcile balances")
	fmt.Println("  default       Make an account the user's default")
	fmt.Println("  seed          Load a JSON fixture into the configured store")
	fmt.Println("  archive-show  Print an archived deletion batch")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// commonFlags registers the flags every store-backed command shares.
func commonFlags(fs *flag.FlagSet) (configPath, user *string) {
	configPath = fs.String("config", "configs/config.toml", "Path to the TOML configuration file")
	user = fs.String("user", "", "External (identity provider) user ID to act as")
	return configPath, user
}

func openService(ctx context.Context, log zerolog.Logger, configPath string) (*ledger.Service, store.Store) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to open store")
	}
	return ledger.NewService(st, ledger.WithLogger(log)), st
}

func runAccount(log zerolog.Logger) {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	accountID := fs.String("account-id", "", "Account ID to show")
	fs.Parse(os.Args[2:])

	if *user == "" || *accountID == "" {
		log.Fatal().Msg("Usage: cli account -user EXTERNAL_ID -account-id ID")
	}

	ctx := logger.WithContext(context.Background(), log)
	svc, st := openService(ctx, log, *configPath)
	defer st.Close()

	view, err := svc.GetAccountWithTransactions(ctx, identity.Caller{ExternalID: *user}, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load account")
	}

	fmt.Println("\n=== Account ===")
	fmt.Printf("ID:       %s\n", view.ID)
	fmt.Printf("Name:     %s\n", view.Name)
	fmt.Printf("Type:     %s\n", view.Type)
	fmt.Printf("Balance:  %s\n", view.Balance.StringFixed(2))
	fmt.Printf("Default:  %t\n", view.IsDefault)

	fmt.Printf("\n=== Transactions (%d) ===\n", view.TransactionCount)
	for i, txn := range view.Transactions {
		fmt.Printf("\n%d. %s\n", i+1, txn.Description)
		fmt.Printf("   Date:     %s\n", txn.Date.Format(time.DateOnly))
		fmt.Printf("   Amount:   %s (%s)\n", txn.Amount.StringFixed(2), txn.Type)
		if txn.Category != "" {
			fmt.Printf("   Category: %s\n", txn.Category)
		}
	}
	fmt.Println()
}

func runDelete(log zerolog.Logger) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	ids := fs.String("ids", "", "Comma-separated transaction IDs")
	fs.Parse(os.Args[2:])

	if *user == "" || *ids == "" {
		log.Fatal().Msg("Usage: cli delete -user EXTERNAL_ID -ids ID[,ID...]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, st := openService(ctx, log, *configPath)
	defer st.Close()

	res := svc.BulkDeleteTransactions(ctx, identity.Caller{ExternalID: *user}, splitIDs(*ids))
	printResult(log, res)
}

func runDefault(log zerolog.Logger) {
	fs := flag.NewFlagSet("default", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	accountID := fs.String("account-id", "", "Account ID to make default")
	fs.Parse(os.Args[2:])

	if *user == "" || *accountID == "" {
		log.Fatal().Msg("Usage: cli default -user EXTERNAL_ID -account-id ID")
	}

	ctx := logger.WithContext(context.Background(), log)
	svc, st := openService(ctx, log, *configPath)
	defer st.Close()

	printResult(log, svc.UpdateDefaultAccount(ctx, identity.Caller{ExternalID: *user}, *accountID))
}

func runSeed(log zerolog.Logger) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.toml", "Path to the TOML configuration file")
	fixturePath := fs.String("fixture", "", "Path to the JSON fixture")
	fs.Parse(os.Args[2:])

	if *fixturePath == "" {
		log.Fatal().Msg("Error: -fixture is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	fixture, err := store.ReadFixture(*fixturePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read fixture")
	}

	_, st := openService(ctx, log, *configPath)
	defer st.Close()

	seeder, ok := st.(store.Seeder)
	if !ok {
		log.Fatal().Msgf("Store %T cannot be seeded", st)
	}
	if err := seeder.Seed(ctx, fixture); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Printf("Seeded %d users, %d accounts, %d transactions.\n",
		len(fixture.Users), len(fixture.Accounts), len(fixture.Transactions))
}

func runArchiveShow(log zerolog.Logger) {
	fs := flag.NewFlagSet("archive-show", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI of the archived batch")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: -uri is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	objects, err := archive.NewGCSStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer objects.Close()

	batch, err := archive.New(objects, "", "").Read(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Str("uri", *uri).Msg("Failed to read archive")
	}

	fmt.Printf("\n=== %s ===\n", archive.Filename(*uri))
	fmt.Printf("User:       %s\n", batch.UserID)
	fmt.Printf("Deleted at: %s\n", batch.DeletedAt.Format(time.RFC3339))
	for i, txn := range batch.Transactions {
		fmt.Printf("%d. %s  %s  %s  %s\n", i+1, txn.ID, txn.AccountID, txn.Amount.StringFixed(2), txn.Description)
	}
	fmt.Println()
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func printResult(log zerolog.Logger, res ledger.Result) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
	fmt.Println(string(out))
	if !res.Success {
		os.Exit(1)
	}
}
