// Package main provides CLI for integrity and governance operations.
// Usage: checker validate [--keys k1,k2]
//
//	checker repair [--keys k1,k2]
//	checker blocked
//	checker erase --keys k1 --redact name=REDACTED
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dougwmorrow/open-sc/internal/config"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/storage/postgres"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "validate":
		runValidate(ctx)
	case "repair":
		runRepair(ctx)
	case "blocked":
		runBlocked(ctx)
	case "erase":
		runErase(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Integrity and governance CLI

Usage:
  checker <command> [options]

Commands:
  validate  Check version chains for overlaps, gaps and missing latest rows
  repair    Close overlapping versions and unblock repaired keys
  blocked   List business keys currently blocked from reads
  erase     Overwrite attribute values across a key's history
  help      Show this help

Examples:
  checker validate
  checker validate --keys cust-1,cust-2
  checker repair
  checker erase --keys cust-1 --redact email=REDACTED --redact phone=REDACTED`)
}

type env struct {
	engine *engine.Engine
	blocks *postgres.BlockRepo
	pool   *postgres.Pool
}

func setup(ctx context.Context) *env {
	configDir := os.Getenv("SCD_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.DSN))
	if err != nil {
		fmt.Printf("Error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	txm := postgres.NewTxManager(pool)
	blocks := postgres.NewBlockRepo(txm)

	archive, err := postgres.NewArchiveRepo(txm)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(
		cfg.EngineConfig(),
		txm,
		postgres.NewVersionRepo(txm),
		postgres.NewCheckpointRepo(txm),
		postgres.NewScopeLocker(pool),
		blocks,
		archive,
	)
	if err != nil {
		fmt.Printf("Error: failed to initialize engine: %v\n", err)
		os.Exit(1)
	}

	return &env{engine: eng, blocks: blocks, pool: pool}
}

func runValidate(ctx context.Context) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	keys := fs.String("keys", "", "comma-separated business keys, empty for all")
	_ = fs.Parse(os.Args[2:])

	e := setup(ctx)
	defer e.pool.Close()

	report, err := e.engine.Validate(ctx, splitKeys(*keys))
	if err != nil {
		logger.Default().Fatalw("validation failed", "error", err)
	}

	printJSON(report)
	if !report.Clean() {
		os.Exit(1)
	}
}

func runRepair(ctx context.Context) {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	keys := fs.String("keys", "", "comma-separated business keys, empty for the read-block list")
	_ = fs.Parse(os.Args[2:])

	e := setup(ctx)
	defer e.pool.Close()

	result, err := e.engine.Repair(ctx, splitKeys(*keys))
	if err != nil {
		logger.Default().Fatalw("repair failed", "error", err)
	}

	printJSON(result)
}

func runBlocked(ctx context.Context) {
	e := setup(ctx)
	defer e.pool.Close()

	keys, err := e.blocks.BlockedKeys(ctx)
	if err != nil {
		logger.Default().Fatalw("failed to list blocked keys", "error", err)
	}

	if len(keys) == 0 {
		fmt.Println("No blocked keys")
		return
	}
	for _, k := range keys {
		fmt.Println(k)
	}
}

func runErase(ctx context.Context) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	keys := fs.String("keys", "", "comma-separated business keys")
	expr := fs.String("expr", "", "selector expression over latest attributes")
	var redactions redactFlags
	fs.Var(&redactions, "redact", "attribute=replacement, repeatable")
	_ = fs.Parse(os.Args[2:])

	if len(redactions) == 0 {
		fmt.Println("Error: at least one --redact is required")
		os.Exit(1)
	}

	e := setup(ctx)
	defer e.pool.Close()

	result, err := e.engine.Erase(ctx, engine.EraseRequest{
		BusinessKeys: splitKeys(*keys),
		Expression:   *expr,
		Redactions:   redactions,
	})
	if err != nil {
		logger.Default().Fatalw("erasure failed", "error", err)
	}

	printJSON(result)
}

// redactFlags collects repeated attribute=replacement pairs.
type redactFlags map[string]any

func (r *redactFlags) String() string {
	return fmt.Sprintf("%v", map[string]any(*r))
}

func (r *redactFlags) Set(value string) error {
	name, replacement, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected attribute=replacement, got %q", value)
	}
	if *r == nil {
		*r = make(map[string]any)
	}
	(*r)[name] = replacement
	return nil
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
