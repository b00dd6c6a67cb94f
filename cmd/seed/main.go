package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/config"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/planfile"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// defaultPlans seeds a local instance with a few representative workflows
// when no plan file is given.
const defaultPlans = `
name: Disk usage report
description: Collect and summarize disk usage on the host
classification: simple
steps:
  - id: collect
    description: Gather per-directory usage
    agent: shell
    command: du -sh /var/log /tmp
  - id: summarize
    description: Print the totals
    agent: shell
    command: df -h
    depends_on: [collect]
---
name: Dependency refresh
description: Update vendored dependencies behind an approval gate
classification: install
steps:
  - id: audit
    description: List outdated packages
    agent: shell
    command: echo audit
  - id: upgrade
    description: Apply the upgrades
    agent: shell
    command: echo upgrade
    risk: high
    requires_confirmation: true
    depends_on: [audit]
    stage: 1
  - id: verify
    description: Run the smoke checks
    agent: shell
    command: echo verify
    depends_on: [upgrade]
    stage: 2
---
name: Research sweep
description: Fan out independent lookups
classification: research
steps:
  - id: docs
    description: Search the documentation
    agent: researcher
    command: echo docs
  - id: issues
    description: Search the issue tracker
    agent: researcher
    command: echo issues
  - id: report
    description: Merge the findings
    agent: writer
    command: echo report
    depends_on: [docs, issues]
`

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	plansFile := flag.String("plans", "", "Path to a YAML plan file (defaults to built-in demo plans)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	var plans []*models.Workflow
	if *plansFile != "" {
		plans, err = planfile.Load(*plansFile)
	} else {
		plans, err = planfile.Decode(strings.NewReader(defaultPlans))
	}
	if err != nil {
		log.Fatalf("Failed to read plans: %v", err)
	}

	// Skip plans whose name is already present to keep the seed idempotent.
	existing, _, err := store.ListWorkflows(ctx, repository.ListFilter{})
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, wf := range existing {
		existingNames[wf.Name] = true
	}

	for _, wf := range plans {
		if existingNames[wf.Name] {
			logger.Info("Skipping existing workflow", "name", wf.Name)
			continue
		}
		wf.ID = uuid.New().String()
		wf.CreatedAt = time.Now().UTC()
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			log.Printf("Failed to create workflow %s: %v", wf.Name, err)
		} else {
			logger.Info("Seeded workflow", "name", wf.Name, "id", wf.ID, "mode", wf.AutomationMode)
		}
	}
	logger.Info("Seeding complete!")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.WorkflowStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		pg := repository.NewPostgresWorkflowStore(pool)
		if err := pg.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil

	case "sqlite":
		db, err := sql.Open("sqlite", "file:"+cfg.Store.Path+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		st, err := repository.NewSQLiteWorkflowStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("seeding requires a persistent store, got backend %q", cfg.Store.Backend)
	}
}
