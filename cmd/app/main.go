package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	sqliteadapter "github.com/atvirokodosprendimai/registry/internal/adapters/db/sqlite"
	httpadapter "github.com/atvirokodosprendimai/registry/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/registry/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/registry/internal/application"
	"github.com/atvirokodosprendimai/registry/internal/config"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/impact"
	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
	"github.com/atvirokodosprendimai/registry/internal/telemetry"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "registry",
		Usage: "Registry governance server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			rulesCommand(),
			seedCommand(),
			schemaCommand(),
			entitiesCommand(),
			relationshipsCommand(),
			graphCommand(),
			bulkCommand(),
			simulateCommand(),
			governanceCommand(),
			auditCommand(),
			bootstrapCommand(),
			configCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP and JSON-RPC servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file (default ./registry.yaml when present)"},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "rules", Usage: "visibility rule store path"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			v := config.New()
			if err := config.Read(v, c.String("config")); err != nil {
				return err
			}
			overrides := map[string]string{
				"addr":       "http.addr",
				"rpc-socket": "rpc.socket",
				"db-path":    "db.path",
				"rules":      "rules.path",
				"log-level":  "log.level",
			}
			for flag, key := range overrides {
				if c.IsSet(flag) {
					v.Set(key, c.String(flag))
				}
			}
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg)
		},
	}
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func openStore(ctx context.Context, path string, logger *slog.Logger) (*gorm.DB, error) {
	db, err := sqliteadapter.Open(path)
	if err != nil {
		return nil, err
	}
	version, err := sqliteadapter.RunMigrations(ctx, db)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "path", path, "schema_version", version)
	return db, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	tracing, err := telemetry.NewProvider(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	// The rule store is loaded before anything listens. A bad file stops
	// startup.
	ruleSet, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return err
	}
	logger.Info("rule store loaded", "path", cfg.Rules.Path, "version", ruleSet.Version(), "checksum", ruleSet.Checksum(), "rules", ruleSet.Len())
	holder := rules.NewHolder(ruleSet)

	db, err := openStore(ctx, cfg.DB.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	repo := sqliteadapter.NewRepository(db)
	schemas := application.NewSchemaService(repo, cfg.SchemaCache.TTL)
	gateway := application.NewGateway(repo, impact.NewAnalyzer(logger), schemas, logger)
	service := application.NewRegistryService(repo, holder, schemas, logger)

	boot, err := gateway.Bootstrap(ctx, application.CommitOptions{Actor: domain.SystemActor})
	if err != nil {
		return err
	}
	if len(boot.Created) > 0 {
		logger.Info("bootstrapped meta types", "created", boot.Created)
	}

	if cfg.Rules.Watch {
		watcher, err := rules.NewWatcher(holder, cfg.Rules.Path, cfg.Rules.Debounce, logger)
		if err != nil {
			return err
		}
		reloaded, err := watcher.Start()
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case rs := <-reloaded:
					logger.Debug("rule set swapped", "version", rs.Version())
				}
			}
		}()
	}

	router := httpadapter.NewRouter(service, gateway, httpadapter.Options{WriteRoles: cfg.WriteRoles, Logger: logger})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.RPC.Socket, service, gateway, rpcadapter.Options{WriteRoles: cfg.WriteRoles, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = rpcSrv.Close()
	}()
	logger.Info("json-rpc listening", "socket", cfg.RPC.Socket)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Visibility rule store commands",
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate a rule store file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Value: config.Defaults().Rules.Path},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					rs, err := rules.Load(c.String("file"))
					if err != nil {
						var violations rules.Violations
						if errors.As(err, &violations) {
							if c.Bool("json") {
								_ = printJSON(violations)
							} else {
								printViolations(violations)
							}
						}
						return err
					}
					if c.Bool("json") {
						return printJSON(map[string]any{"version": rs.Version(), "checksum": rs.Checksum(), "rules": rs.Rules()})
					}
					printKV([][2]string{
						{"file", c.String("file")},
						{"version", rs.Version()},
						{"checksum", rs.Checksum()},
						{"rules", fmt.Sprint(rs.Len())},
					})
					return nil
				},
			},
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load a YAML seed document straight into the database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true},
			&cli.StringFlag{Name: "db-path", Value: config.Defaults().DB.Path},
			&cli.StringFlag{Name: "actor", Value: domain.SystemActor},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return err
			}
			doc, err := application.ParseSeed(data)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			db, err := openStore(ctx, c.String("db-path"), logger)
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()

			repo := sqliteadapter.NewRepository(db)
			schemas := application.NewSchemaService(repo, application.DefaultSchemaTTL)
			gateway := application.NewGateway(repo, impact.NewAnalyzer(logger), schemas, logger)
			out, err := gateway.Seed(ctx, application.CommitOptions{Actor: c.String("actor")}, doc)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			fmt.Printf("seeded %d entities and %d relationships\n", len(out.Entities), len(out.Relationships))
			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Projected schema commands",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show the schema of an entity type as the caller sees it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Required: true, Usage: "entity type URN or name"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out schema.Schema
					if err := doSchemaGet(ctx, cfg, c.String("type"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSchema(out)
					return nil
				},
			},
		},
	}
}

func commitFlagSet() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "force", Usage: "commit despite blocking impacts"},
		&cli.StringFlag{Name: "reason", Usage: "override reason, required with --force"},
	}
}

func commitFromFlags(c *cli.Command) commitFlags {
	return commitFlags{Force: c.Bool("force"), Reason: c.String("reason")}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}
}

// parseObject decodes a JSON object flag. An empty value yields nil.
func parseObject(raw, flag string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return out, nil
}

func printMutationResult(c *cli.Command, out application.Mutation) error {
	if c.Bool("json") {
		return printJSON(out)
	}
	printMutation(out)
	return nil
}

func entitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "entities",
		Usage: "Entity commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List visible entities",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type"},
					&cli.StringFlag{Name: "search"},
					&cli.IntFlag{Name: "limit"},
					&cli.IntFlag{Name: "offset"},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					query := domain.EntityQuery{
						TypeURN: c.String("type"),
						Search:  c.String("search"),
						Limit:   c.Int("limit"),
						Offset:  c.Int("offset"),
					}
					var out domain.EntityPage
					if err := doEntitiesList(ctx, cfg, query, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printEntities(out)
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show an entity with its relationships",
				Flags: []cli.Flag{&cli.StringFlag{Name: "urn", Required: true}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.EntityView
					if err := doEntityGet(ctx, cfg, c.String("urn"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printEntityView(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create an entity",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "type", Required: true},
					&cli.StringFlag{Name: "urn", Usage: "generated when empty"},
					&cli.StringFlag{Name: "attrs", Usage: `JSON object, e.g. '{"hostname":"s1"}'`},
					&cli.StringFlag{Name: "state", Usage: "initial lifecycle state"},
					jsonFlag(),
				}, commitFlagSet()...),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					attrs, err := parseObject(c.String("attrs"), "attrs")
					if err != nil {
						return err
					}
					in := application.CreateEntityInput{
						URN:        c.String("urn"),
						EntityType: c.String("type"),
						Attributes: attrs,
						FSMState:   c.String("state"),
					}
					var out domain.Entity
					if err := doEntityCreate(ctx, cfg, in, commitFromFlags(c), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printEntity(out)
					return nil
				},
			},
			{
				Name:  "patch",
				Usage: "Merge attributes into an entity",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "urn", Required: true},
					&cli.StringFlag{Name: "attrs", Required: true, Usage: "JSON object"},
					&cli.BoolFlag{Name: "replace", Usage: "replace the whole attribute map"},
					jsonFlag(),
				}, commitFlagSet()...),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					attrs, err := parseObject(c.String("attrs"), "attrs")
					if err != nil {
						return err
					}
					if attrs == nil {
						attrs = map[string]any{}
					}
					var out application.Mutation
					if err := doEntityUpdate(ctx, cfg, c.String("urn"), attrs, c.Bool("replace"), commitFromFlags(c), &out); err != nil {
						return err
					}
					return printMutationResult(c, out)
				},
			},
			{
				Name:  "lifecycle",
				Usage: "Apply a lifecycle action",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "urn", Required: true},
					&cli.StringFlag{Name: "action", Required: true, Usage: "e.g. archive, restore"},
					jsonFlag(),
				}, commitFlagSet()...),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Mutation
					if err := doEntityLifecycle(ctx, cfg, c.String("urn"), c.String("action"), commitFromFlags(c), &out); err != nil {
						return err
					}
					return printMutationResult(c, out)
				},
			},
		},
	}
}

func relationshipsCommand() *cli.Command {
	return &cli.Command{
		Name:  "relationships",
		Usage: "Relationship commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List visible relationships",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "definition"},
					&cli.StringFlag{Name: "from"},
					&cli.StringFlag{Name: "to"},
					&cli.IntFlag{Name: "limit"},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					filter := domain.RelationshipFilter{
						DefinitionURN: c.String("definition"),
						FromURN:       c.String("from"),
						ToURN:         c.String("to"),
						Limit:         c.Int("limit"),
					}
					var out []domain.RelationshipSummary
					if err := doRelationshipsList(ctx, cfg, filter, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRelationships(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a relationship",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "definition", Required: true},
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "attrs", Usage: "JSON object"},
					jsonFlag(),
				}, commitFlagSet()...),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					attrs, err := parseObject(c.String("attrs"), "attrs")
					if err != nil {
						return err
					}
					in := application.RelationshipInput{
						DefinitionURN: c.String("definition"),
						FromURN:       c.String("from"),
						ToURN:         c.String("to"),
						Attributes:    attrs,
					}
					var out application.Mutation
					if err := doRelationshipCreate(ctx, cfg, in, commitFromFlags(c), &out); err != nil {
						return err
					}
					return printMutationResult(c, out)
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a relationship",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					jsonFlag(),
				}, commitFlagSet()...),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Mutation
					if err := doRelationshipDelete(ctx, cfg, c.String("id"), commitFromFlags(c), &out); err != nil {
						return err
					}
					return printMutationResult(c, out)
				},
			},
		},
	}
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Graph traversal commands",
		Commands: []*cli.Command{
			{
				Name:  "context",
				Usage: "Traverse the graph around an entity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "urn", Required: true},
					&cli.StringFlag{Name: "view", Value: "neighborhood", Usage: "neighborhood, extended or a schema view name"},
					&cli.IntFlag{Name: "depth", Value: -1, Usage: "override the view depth"},
					&cli.StringFlag{Name: "type", Usage: "entity type owning the named view"},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					query := application.GraphQuery{View: c.String("view"), Depth: c.Int("depth"), TypeURN: c.String("type")}
					var out domain.Graph
					if err := doGraphContext(ctx, cfg, c.String("urn"), query, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printGraph(out)
					return nil
				},
			},
		},
	}
}

func bulkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "operation", Required: true, Usage: "FSM_TRANSITION, ATTRIBUTE_SET or RELATIONSHIP_LINK"},
		&cli.StringFlag{Name: "targets", Usage: "comma separated URNs"},
		&cli.StringFlag{Name: "targets-file", Usage: "file with one URN per line"},
		&cli.StringFlag{Name: "payload", Usage: "JSON object"},
		jsonFlag(),
	}
}

func bulkRequestFromFlags(c *cli.Command) (application.BulkRequest, error) {
	var targets []string
	for _, t := range strings.Split(c.String("targets"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if path := c.String("targets-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return application.BulkRequest{}, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
				targets = append(targets, line)
			}
		}
	}
	if len(targets) == 0 {
		return application.BulkRequest{}, errors.New("--targets or --targets-file is required")
	}
	payload, err := parseObject(c.String("payload"), "payload")
	if err != nil {
		return application.BulkRequest{}, err
	}
	return application.BulkRequest{
		Operation: application.BulkOperation(strings.ToUpper(c.String("operation"))),
		Targets:   targets,
		Payload:   payload,
		Force:     c.Bool("force"),
		Reason:    c.String("reason"),
	}, nil
}

func bulkCommand() *cli.Command {
	run := func(commit bool) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req, err := bulkRequestFromFlags(c)
			if err != nil {
				return err
			}
			var out application.BulkResult
			if commit {
				err = doBulkCommit(ctx, cfg, req, &out)
			} else {
				err = doBulkPreview(ctx, cfg, req, &out)
			}
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printBulkResult(out)
			return nil
		}
	}
	return &cli.Command{
		Name:  "bulk",
		Usage: "Bulk impact preview and commit",
		Commands: []*cli.Command{
			{
				Name:   "preview",
				Usage:  "Aggregate the impact of a bulk operation without writing",
				Flags:  bulkFlags(),
				Action: run(false),
			},
			{
				Name:   "commit",
				Usage:  "Apply a bulk operation in one transaction",
				Flags:  append(bulkFlags(), commitFlagSet()...),
				Action: run(true),
			},
		},
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Diff the projection of a type under extra visibility rules",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Required: true},
			&cli.StringFlag{Name: "role", Value: domain.DefaultRole, Usage: "comma separated roles to simulate"},
			&cli.StringFlag{Name: "overlay", Required: true, Usage: "rule document with the candidate rules"},
			jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(c.String("overlay"))
			if err != nil {
				return err
			}
			doc, err := rules.Parse(data)
			if err != nil {
				return err
			}
			req := application.SimulationRequest{EntityType: c.String("type"), Role: c.String("role"), Overlay: doc.Rules}
			var out application.SimulationDiff
			if err := doSimulate(ctx, cfg, req, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printSimulationDiff(out)
			return nil
		},
	}
}

func governanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "governance",
		Usage: "Inspect the active visibility rules",
		Commands: []*cli.Command{
			{
				Name:  "snapshot",
				Usage: "Show the active rule store",
				Flags: []cli.Flag{jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.RuleSnapshot
					if err := doGovernanceSnapshot(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "projection-map",
				Usage: "Show what a role sees of every entity type",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "limit to one entity type"},
					&cli.StringFlag{Name: "role", Value: domain.DefaultRole},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.ProjectionMap
					if err := doProjectionMap(ctx, cfg, c.String("type"), c.String("role"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printProjectionMap(out)
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit trail commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the latest audit events of an entity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "urn", Required: true},
					&cli.IntFlag{Name: "limit", Value: domain.DefaultAuditEventsLimit},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.AuditEvent
					if err := doAuditList(ctx, cfg, c.String("urn"), c.Int("limit"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditEvents(out)
					return nil
				},
			},
		},
	}
}

func bootstrapCommand() *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "Seed meta types and the default lifecycle (admin only)",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out application.BootstrapResult
			if err := doBootstrap(ctx, cfg, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			if len(out.Created) == 0 {
				fmt.Println("nothing to create")
				return nil
			}
			for _, urn := range out.Created {
				fmt.Println("created", urn)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI client configuration",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Set transport and caller identity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Usage: "uds or http"},
					&cli.StringFlag{Name: "server"},
					&cli.StringFlag{Name: "socket"},
					&cli.StringFlag{Name: "actor", Usage: "caller URN, e.g. urn:mg:user:alice"},
					&cli.StringFlag{Name: "roles", Usage: "comma separated roles"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if c.IsSet("transport") {
						transport := c.String("transport")
						if transport != "uds" && transport != "http" {
							return fmt.Errorf("transport must be uds or http, got %q", transport)
						}
						cfg.Transport = transport
					}
					if c.IsSet("server") {
						cfg.Server = c.String("server")
					}
					if c.IsSet("socket") {
						cfg.Socket = c.String("socket")
					}
					if c.IsSet("actor") {
						cfg.Actor = c.String("actor")
					}
					if c.IsSet("roles") {
						cfg.Roles = c.String("roles")
					}
					if err := saveConfig(cfg); err != nil {
						return err
					}
					printKV([][2]string{
						{"transport", cfg.Transport},
						{"server", cfg.Server},
						{"socket", cfg.Socket},
						{"actor", cfg.Actor},
						{"roles", cfg.Roles},
					})
					return nil
				},
			},
		},
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
