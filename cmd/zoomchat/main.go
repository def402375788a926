package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "zoomchat",
		Usage:   "Extract classified ads from publications and search them",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"ZOOMCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the MCP tools on stdio",
				Action: serveCommand,
			},
			{
				Name:      "extract",
				Usage:     "Extract, store and embed the listings of a publication",
				ArgsUsage: "[NUMBER]",
				Action:    extractCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Extract even when listings already exist",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the run statistics as JSON",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search stored listings",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum combined score (0 keeps every hit, default from config)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
				},
			},
			{
				Name:  "publication",
				Usage: "Manage registered publications",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Register or update a publication",
						ArgsUsage: "NUMBER",
						Action:    publicationAddCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "url",
								Usage: "URL of the publication PDF",
							},
							&cli.StringFlag{
								Name:  "file",
								Usage: "Local PDF file (stored as a file:// URL)",
							},
							&cli.StringFlag{
								Name:  "period",
								Usage: "Human label, e.g. \"du 10 au 16 mars\"",
							},
							&cli.TimestampFlag{
								Name:   "published-at",
								Usage:  "Publication date (YYYY-MM-DD)",
								Layout: "2006-01-02",
							},
						},
					},
					{
						Name:      "show",
						Usage:     "Show a publication (latest when NUMBER is omitted)",
						ArgsUsage: "[NUMBER]",
						Action:    publicationShowCommand,
					},
					{
						Name:      "attach",
						Usage:     "Record the delivery-channel file reference",
						ArgsUsage: "NUMBER FILE_REF",
						Action:    publicationAttachCommand,
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply pending migrations",
						Action: migrateUpCommand,
					},
					{
						Name:   "down",
						Usage:  "Roll back the most recent migration",
						Action: migrateDownCommand,
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Print build information",
				Action: versionCommand,
			},
		},
	}
}
