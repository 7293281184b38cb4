// policyctl is the command-line entrypoint to the policy digitalization and
// evaluation core: it imports and retrieves digitized policies, evaluates
// patients against them, diffs versions and lists the store contents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	"github.com/sirupsen/logrus"

	"github.com/policy-digitalization-core/internal/config"
	"github.com/policy-digitalization-core/internal/database"
	"github.com/policy-digitalization-core/internal/diff"
	"github.com/policy-digitalization-core/internal/domain"
	"github.com/policy-digitalization-core/internal/evaluator"
	"github.com/policy-digitalization-core/internal/normalize"
	"github.com/policy-digitalization-core/internal/pipeline"
	"github.com/policy-digitalization-core/internal/repository"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	configManager, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := configManager.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		os.Exit(1)
	}
	cfg := configManager.GetConfig()

	logger := config.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open policy store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	app := &cli{cfg: cfg, store: store, db: db, log: logger}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// openStore opens the configured store. For postgres the connection pool is
// returned alongside the store so commands can inspect its health; the store
// owns the pool and closes it.
func openStore(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (repository.Store, *database.DB, error) {
	if cfg.Repository.Driver == "postgres" {
		db, err := database.NewConnection(ctx, cfg.Repository, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewPostgresStore(db.Pool, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db, nil
	}
	store, err := repository.NewSQLiteStore(cfg.Repository.SQLitePath, logger)
	return store, nil, err
}

type cli struct {
	cfg   *domain.Config
	store repository.Store
	db    *database.DB
	log   *logrus.Logger
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "import":
		return c.importPolicy(ctx, args)
	case "get":
		return c.getPolicy(ctx, args)
	case "evaluate":
		return c.evaluate(ctx, args)
	case "diff":
		return c.diffVersions(ctx, args)
	case "versions":
		return c.listVersions(ctx, args)
	case "invalidate":
		return c.invalidate(ctx, args)
	case "migrate":
		return c.migrate(ctx, args)
	case "status":
		return c.status(ctx, args)
	case "help", "--help", "-h":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// importPolicy stores a digitized policy JSON file in the repository,
// optionally under an explicit version label.
func (c *cli) importPolicy(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: policyctl import <policy.json> [version]")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}
	var policy domain.DigitizedPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	var id string
	if len(args) >= 2 {
		id, err = c.store.StoreVersion(ctx, &policy, args[1])
	} else {
		id, err = c.store.Store(ctx, &policy)
	}
	if err != nil {
		return err
	}

	fmt.Printf("stored %s/%s version %s (id %s)\n",
		policy.PayerName, policy.MedicationName, policy.EffectiveVersion(), id)
	return nil
}

// getPolicy loads a policy through the pipeline's fallback chain: store,
// then pre-digitized JSON under the policies root.
func (c *cli) getPolicy(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: policyctl get <payer> <medication>")
	}

	paths, err := pipeline.NewPolicyPaths(c.cfg.Policies.RootDir)
	if err != nil {
		return err
	}
	p := pipeline.New(unavailableExtractor{}, unavailableValidator{}, c.store, paths, c.cfg.Pipeline, c.log)

	policy, err := p.GetOrDigitalize(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(policy)
}

// evaluate loads a policy version and evaluates a raw patient JSON file
// against it.
func (c *cli) evaluate(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: policyctl evaluate <payer> <medication> <patient.json> [version]")
	}

	version := domain.DefaultVersion
	if len(args) == 4 {
		version = args[3]
	}

	policy, err := c.store.Load(ctx, args[0], args[1], version)
	if err != nil {
		return err
	}
	if policy == nil {
		return domain.NewPolicyNotFound(args[0], args[1])
	}

	data, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("reading patient file: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing patient file: %w", err)
	}

	patient, err := normalize.NormalizePatientData(raw)
	if err != nil {
		return err
	}

	result := evaluator.NewEngine().EvaluatePolicy(policy, patient)
	return printJSON(result)
}

// diffVersions computes the structural diff between two stored versions.
func (c *cli) diffVersions(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: policyctl diff <payer> <medication> <old-version> <new-version>")
	}

	oldPolicy, err := c.store.Load(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	newPolicy, err := c.store.Load(ctx, args[0], args[1], args[3])
	if err != nil {
		return err
	}
	if oldPolicy == nil || newPolicy == nil {
		return domain.NewPolicyNotFound(args[0], args[1])
	}

	return printJSON(diff.New().Diff(oldPolicy, newPolicy))
}

func (c *cli) listVersions(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: policyctl versions <payer> <medication>")
	}
	versions, err := c.store.ListVersions(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(versions)
}

func (c *cli) invalidate(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: policyctl invalidate <payer> <medication>")
	}
	deleted, err := c.store.Invalidate(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("deleted: %v\n", deleted)
	return nil
}

// migrate runs the policy-store schema migrations. Only the postgres driver
// carries a migration set; the SQLite store creates its own schema.
func (c *cli) migrate(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: policyctl migrate <up|down|version>")
	}
	if c.cfg.Repository.Driver != "postgres" {
		return fmt.Errorf("migrations require the postgres driver (configured: %s)", c.cfg.Repository.Driver)
	}

	runner, err := database.NewMigrationRunner(
		c.cfg.Repository.PostgresURL, c.cfg.Repository.MigrationsPath, c.log)
	if err != nil {
		return err
	}
	defer runner.Close()

	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "version":
		version, dirty, err := runner.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %s", args[0])
	}
}

// status reports the store contents and, for postgres, connection pool health.
func (c *cli) status(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return errors.New("usage: policyctl status")
	}

	count, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("driver: %s\n", c.cfg.Repository.Driver)
	fmt.Printf("cached policies: %d\n", count)

	if c.db != nil {
		if err := c.db.Health(ctx); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		stats := c.db.Stats()
		fmt.Printf("pool: %d open, %d in use, %d idle\n",
			stats.OpenConnections, stats.InUse, stats.Idle)
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// The CLI carries no extraction or validation model; raw-text digitalization
// reports the missing collaborator instead of silently skipping it.
type unavailableExtractor struct{}

func (unavailableExtractor) ExtractFromText(context.Context, string) (*pipeline.RawExtractionResult, error) {
	return nil, errors.New("no extraction model configured; import a pre-digitized policy instead")
}

func (unavailableExtractor) ExtractFromPDF(context.Context, string) (*pipeline.RawExtractionResult, error) {
	return nil, errors.New("no extraction model configured; import a pre-digitized policy instead")
}

type unavailableValidator struct{}

func (unavailableValidator) ValidateExtraction(context.Context, *pipeline.RawExtractionResult, string) (*pipeline.ValidationOutcome, error) {
	return nil, errors.New("no validation model configured")
}

func usage() {
	fmt.Fprint(os.Stderr, `policyctl - policy digitalization and evaluation core

Usage:
  policyctl import <policy.json> [version]                     store a digitized policy
  policyctl get <payer> <medication>                           load via cache or pre-digitized JSON
  policyctl evaluate <payer> <medication> <patient.json> [version]
  policyctl diff <payer> <medication> <old-version> <new-version>
  policyctl versions <payer> <medication>
  policyctl invalidate <payer> <medication>
  policyctl migrate <up|down|version>                          manage the postgres schema
  policyctl status                                             store and pool health
`)
}
