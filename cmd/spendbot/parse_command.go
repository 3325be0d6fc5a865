package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"spendbot/internal/core"
	"spendbot/internal/parser"
)

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse a command without submitting it and print the ledger payload",
		ArgsUsage: `"<amount> on|for <description>. [note: <note>.]"`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note-scope",
				Usage: "Where a note may appear: anywhere or after_amount",
				Value: parser.NoteScopeAnywhere.String(),
			},
			&cli.StringFlag{
				Name:  "date",
				Usage: "Transaction date as YYYY-MM-DD (default: today)",
			},
			&cli.StringFlag{
				Name:  "source-name",
				Usage: "Asset account the withdrawal is taken from",
				Value: core.DefaultSourceName,
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Tag attached to the transaction",
				Value: core.DefaultTag,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("parse needs the command text", 2)
			}
			scope, err := parser.ParseNoteScope(c.String("note-scope"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			for _, name := range []string{"source-name", "tag"} {
				if strings.TrimSpace(c.String(name)) == "" {
					return cli.Exit(fmt.Sprintf("--%s cannot be empty", name), 2)
				}
			}

			opts := []parser.Option{
				parser.WithNoteScope(scope),
				parser.WithSourceName(c.String("source-name")),
				parser.WithTag(c.String("tag")),
			}
			if raw := c.String("date"); raw != "" {
				day, err := time.Parse("2006-01-02", raw)
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid --date %q: want YYYY-MM-DD", raw), 2)
				}
				opts = append(opts, parser.WithClock(func() time.Time { return day }))
			}

			text := strings.Join(c.Args().Slice(), " ")
			req, err := parser.New(opts...).Parse(text)
			if err != nil {
				var verr *core.ValidationError
				if errors.As(err, &verr) {
					return cli.Exit("rejected: "+verr.Reason, 1)
				}
				return err
			}

			payload := struct {
				Transactions []core.TransactionRequest `json:"transactions"`
			}{Transactions: []core.TransactionRequest{req}}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}
}
