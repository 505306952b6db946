// Command settlectl runs administrative tasks against a settlement database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/R3E-Network/settlement_layer/internal/app/services/reconcile"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/postgres"
	settlecli "github.com/R3E-Network/settlement_layer/internal/cli"
	"github.com/R3E-Network/settlement_layer/internal/config"
	"github.com/R3E-Network/settlement_layer/internal/logging"
	"github.com/R3E-Network/settlement_layer/internal/platform/migrations"
)

var out = settlecli.NewPrinter(os.Stdout)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		out.Error(err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "settlectl"
	app.Usage = "manage a settlement database"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "economy",
			Usage: "Economy tables YAML (overrides ECONOMY_CONFIG)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "migrate",
			Usage: "Manage database migrations",
			Subcommands: []cli.Command{
				{Name: "up", Usage: "Apply pending migrations", Action: migrateAction("up")},
				{Name: "down", Usage: "Roll back every migration", Action: migrateAction("down")},
				{Name: "status", Usage: "Show the applied migration version", Action: migrateAction("status")},
			},
		},
		{
			Name:   "reconcile",
			Usage:  "Compare stored balances with the ledger once",
			Action: reconcileAction,
		},
		{
			Name:  "economy",
			Usage: "Inspect economy tables",
			Subcommands: []cli.Command{
				{Name: "check", Usage: "Validate the economy tables", Action: checkEconomyAction},
			},
		},
		{
			Name:      "completion",
			Usage:     "Print or install a shell completion script",
			ArgsUsage: "bash|zsh|fish",
			Subcommands: []cli.Command{
				{
					Name:      "print",
					Usage:     "Print the completion script",
					ArgsUsage: "bash|zsh|fish",
					Action: func(c *cli.Context) error {
						return settlecli.GenerateCompletion(os.Stdout, c.Args().First())
					},
				},
				{
					Name:      "install",
					Usage:     "Install the completion script under $HOME",
					ArgsUsage: "bash|zsh|fish",
					Action: func(c *cli.Context) error {
						path, err := settlecli.InstallCompletion("", c.Args().First())
						if err != nil {
							return err
						}
						out.Success("completion installed to " + path)
						return nil
					},
				},
			},
		},
	}
	return app
}

// loadConfig reads the environment and applies the global flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if path := c.GlobalString("economy"); path != "" {
		cfg.EconomyConfig = path
	}
	return cfg, nil
}

func withDB(ctx context.Context, cfg config.Config, fn func(*sql.DB) error) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func migrateAction(action string) func(*cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return withDB(context.Background(), cfg, func(db *sql.DB) error {
			switch action {
			case "up":
				if err := migrations.Up(db); err != nil {
					return err
				}
			case "down":
				if err := migrations.Down(db); err != nil {
					return err
				}
			}
			version, dirty, err := migrations.Version(db)
			if err != nil {
				return err
			}
			if dirty {
				out.Warning(fmt.Sprintf("schema version %d is dirty", version))
				return nil
			}
			out.Success(fmt.Sprintf("schema at version %d", version))
			return nil
		})
	}
}

func reconcileAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return withDB(ctx, cfg, func(db *sql.DB) error {
		log := logging.New(logging.Config{Service: "settlectl", Level: cfg.LogLevel, Format: cfg.LogFormat})
		job, err := reconcile.New(postgres.New(db), cfg.ReconcileSchedule, log)
		if err != nil {
			return err
		}

		spin := settlecli.NewSpinner(out, "reconciling balances")
		spin.Start()
		report, err := job.RunOnce(ctx)
		spin.Stop()
		if err != nil {
			return err
		}
		out.DriftReport(report)
		if len(report.Drifts) > 0 {
			return fmt.Errorf("ledger drift detected")
		}
		return nil
	})
}

func checkEconomyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	eco, err := config.LoadEconomyOrDefault(cfg.EconomyConfig)
	if err != nil {
		return err
	}

	tiers := make([]string, 0, len(eco.Tiers))
	for tier := range eco.Tiers {
		tiers = append(tiers, string(tier))
	}
	sort.Strings(tiers)
	out.Success(fmt.Sprintf("%d tiers: %v", len(tiers), tiers))
	for _, p := range eco.Packs {
		out.Success(fmt.Sprintf("pack %s costs %.2f bonds across %d tiers", p.ID, p.CostBonds, len(p.Odds)))
	}
	out.Success(fmt.Sprintf("%d progression levels, %d seasons", len(eco.Progression), len(eco.Seasons)))
	if _, ok := eco.ActiveSeason(time.Now().UTC()); !ok {
		return fmt.Errorf("no season is active now; claims would fail")
	}
	return nil
}
