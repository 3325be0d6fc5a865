package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	appcli "spendbot/internal/cli"
	"spendbot/internal/config"
	"spendbot/internal/storage"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recently handled commands from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of entries to show",
				Value:   storage.DefaultRecentLimit,
			},
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "Journal SQLite path (overrides journal.sqlite_path)",
				EnvVars: []string{"JOURNAL_SQLITE_PATH"},
			},
			&cli.BoolFlag{
				Name:    "summary",
				Aliases: []string{"s"},
				Usage:   "Show the number of handled commands per outcome instead of entries",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
		Action: func(c *cli.Context) error {
			dbPath := c.String("journal")
			if dbPath == "" {
				if err := appcli.LoadEnvFile(c.String("env-file")); err != nil {
					return err
				}
				cfg, err := config.Load(appcli.ResolveConfigPath(c.String("config"), c.IsSet("config")))
				if err != nil {
					return err
				}
				dbPath = cfg.Journal.SQLitePath
			}
			if dbPath == "" {
				return cli.Exit("no journal configured: set journal.sqlite_path or --journal", 2)
			}

			journal, err := storage.NewJournal(dbPath, nil)
			if err != nil {
				return err
			}
			defer journal.Close()

			if c.Bool("summary") {
				return printSummary(c, journal)
			}

			entries, err := journal.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSENDER\tOUTCOME\tAMOUNT\tDESCRIPTION\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime),
					e.Sender,
					e.Outcome,
					e.Amount,
					e.Description,
					e.Reason,
				)
			}
			return w.Flush()
		},
	}
}

func printSummary(c *cli.Context, journal *storage.Journal) error {
	counts, err := journal.Counts(c.Context)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}

	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "%s\t%d\n", outcome, counts[outcome])
	}
	return w.Flush()
}
