package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stacc-go/internal/app"
	"stacc-go/internal/config"
	"stacc-go/internal/export"
	"stacc-go/internal/stacc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// withApp reads the config, creates a StaccApp for the named operation, runs
// fn and closes the app. A failing fn marks the operation as failed.
func withApp(operation string, fn func(a *app.StaccApp) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.NewStaccApp(cfg, operation)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}

	runErr := fn(a)
	if runErr != nil {
		a.Operation().Fail()
	}
	if err := a.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

var rootCmd = &cobra.Command{
	Use:          "stacc",
	Short:        "Storage accounting ledger",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.ActorID, _ = cmd.Flags().GetString("actor")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Actor:      %s\n", cfg.ActorID)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Blob Store: %s\n", cfg.BlobStore.Type)
		fmt.Printf("Workers:    %d\n", cfg.Jobs.Workers)
		fmt.Printf("Reconcile:  %s\n", cfg.Jobs.ReconcileSchedule)
		fmt.Printf("Listen:     %s\n", cfg.Server.Listen)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ledger database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		version, err := app.MigrateDatabase(cfg)
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Printf("Schema at version %d\n", version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		version, upToDate, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}
		state := "up to date"
		if !upToDate {
			state = "migrations pending (run: stacc db migrate)"
		}
		fmt.Printf("Schema version %d, %s\n", version, state)
		return nil
	},
}

// usage command
var usageCmd = &cobra.Command{
	Use:   "usage OWNER",
	Short: "Show storage usage for tenant:ID or container:ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exact, _ := cmd.Flags().GetBool("exact")
		return withApp("Usage", func(a *app.StaccApp) error {
			report, err := a.Usage(cmd.Context(), args[0], exact)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d bytes  (%d pending", report.Owner, report.BytesUsed, report.PendingCount)
			if report.LastEntryID != "" {
				fmt.Printf(", through %s", report.LastEntryID)
			}
			fmt.Println(")")
			if report.Exact != nil {
				fmt.Printf("exact: %d bytes\n", *report.Exact)
			}
			return nil
		})
	},
}

// entries command
var entriesCmd = &cobra.Command{
	Use:   "entries OWNER",
	Short: "List ledger entries not yet in the owner's snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp("PendingEntries", func(a *app.StaccApp) error {
			entries, err := a.PendingEntries(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No pending entries.")
				return nil
			}
			for _, e := range entries {
				printEntry(os.Stdout, e)
			}
			return nil
		})
	},
}

func printEntry(w io.Writer, e *stacc.Entry) {
	record := "-"
	if !e.Recordable.IsZero() {
		record = e.Recordable.String()
	}
	fmt.Fprintf(w, "%s  %-12s  %+12d  %-20s  %s\n",
		e.ID, e.Operation, e.Delta, record, e.CreatedAt.Format("2006-01-02 15:04:05"))
}

func printEntries(entries []*stacc.Entry) {
	for _, e := range entries {
		printEntry(os.Stdout, e)
	}
}

// materialize command
var materializeCmd = &cobra.Command{
	Use:   "materialize [OWNER]",
	Short: "Fold pending entries into snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("give exactly one of OWNER or --all")
		}
		return withApp("Materialize", func(a *app.StaccApp) error {
			if all {
				n, err := a.MaterializeAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Materialized %d owner(s)\n", n)
				return nil
			}
			if err := a.Materialize(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Materialized %s\n", args[0])
			return nil
		})
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile [OWNER]",
	Short: "Compare the ledger with real attachments and correct drift",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("give exactly one of OWNER or --all")
		}
		return withApp("Reconcile", func(a *app.StaccApp) error {
			var results []*stacc.ReconcileResult
			if all {
				var err error
				results, err = a.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				r, err := a.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results = append(results, r.Containers...)
				results = append(results, r)
			}
			for _, r := range results {
				fmt.Printf("%-40s  real %12d  ledger %12d  diff %+d\n", r.Owner, r.RealBytes, r.LedgerBytes, r.Diff)
			}
			return nil
		})
	},
}

// backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Seed the ledger from existing attachments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Backfill", func(a *app.StaccApp) error {
			r, err := a.Backfill(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Created %d entries, skipped %d attachment(s)\n", r.Created, r.Skipped)
			fmt.Printf("Materialized %d container(s) and %d tenant(s)\n", r.ContainersMaterialized, r.TenantsMaterialized)
			return nil
		})
	},
}

// attach command
var attachCmd = &cobra.Command{
	Use:   "attach TARGET FILE",
	Short: "Attach a file to card:ID, comment:ID, container:ID or rich_text:ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withApp("Attach", func(a *app.StaccApp) error {
			att, entry, err := a.Attach(cmd.Context(), args[0], args[1], name)
			if err != nil {
				return err
			}
			fmt.Printf("Attachment %s (blob %s)\n", att.ID, att.BlobID)
			if entry != nil {
				printEntry(os.Stdout, entry)
			}
			return nil
		})
	},
}

// detach command
var detachCmd = &cobra.Command{
	Use:   "detach ATTACHMENT_ID",
	Short: "Remove an attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Detach", func(a *app.StaccApp) error {
			entry, err := a.Detach(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry != nil {
				printEntry(os.Stdout, entry)
			}
			return nil
		})
	},
}

// move command
var moveCmd = &cobra.Command{
	Use:   "move RECORD CONTAINER_ID",
	Short: "Move a card to another container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Move", func(a *app.StaccApp) error {
			entries, err := a.Move(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		})
	},
}

// destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy RECORD|tenant:ID",
	Short: "Delete a record or tenant and everything attached within it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Destroy", func(a *app.StaccApp) error {
			entries, err := a.Destroy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		})
	},
}

// create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create catalog records",
}

func createRunner(operation string, create func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		return withApp(operation, func(a *app.StaccApp) error {
			created, err := create(cmd, a, id, args)
			if err != nil {
				return err
			}
			fmt.Println(created)
			return nil
		})
	}
}

var createTenantCmd = &cobra.Command{
	Use:   "tenant NAME",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: createRunner("CreateTenant", func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error) {
		return a.CreateTenant(cmd.Context(), id, args[0])
	}),
}

var createContainerCmd = &cobra.Command{
	Use:   "container TENANT_ID NAME",
	Short: "Create a container",
	Args:  cobra.ExactArgs(2),
	RunE: createRunner("CreateContainer", func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error) {
		return a.CreateContainer(cmd.Context(), id, args[0], args[1])
	}),
}

var createCardCmd = &cobra.Command{
	Use:   "card TENANT_ID CONTAINER_ID TITLE",
	Short: "Create a card",
	Args:  cobra.ExactArgs(3),
	RunE: createRunner("CreateCard", func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error) {
		return a.CreateCard(cmd.Context(), id, args[0], args[1], args[2])
	}),
}

var createCommentCmd = &cobra.Command{
	Use:   "comment CARD_ID",
	Short: "Create a comment on a card",
	Args:  cobra.ExactArgs(1),
	RunE: createRunner("CreateComment", func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error) {
		return a.CreateComment(cmd.Context(), id, args[0])
	}),
}

var createRichTextCmd = &cobra.Command{
	Use:   "rich-text RECORD NAME BODY",
	Short: "Create a rich text body on a record",
	Args:  cobra.ExactArgs(3),
	RunE: createRunner("CreateRichText", func(cmd *cobra.Command, a *app.StaccApp, id string, args []string) (string, error) {
		return a.CreateRichText(cmd.Context(), id, args[0], args[1], args[2])
	}),
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger as age-encrypted JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		recipients, _ := cmd.Flags().GetStringArray("recipient")
		output, _ := cmd.Flags().GetString("output")
		noFile, _ := cmd.Flags().GetBool("no-recipients-file")

		out := os.Stdout
		if output != "" && output != "-" {
			f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			defer f.Close()
			out = f
		} else if err := export.CheckOutput(out); err != nil {
			return err
		}

		return withApp("Export", func(a *app.StaccApp) error {
			result, err := a.Export(cmd.Context(), out, recipients, !noFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d entries\n", result.Entries)
			return nil
		})
	},
}

var exportKeygenCmd = &cobra.Command{
	Use:   "keygen IDENTITY_FILE",
	Short: "Generate an export key pair and add it to the recipients file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := export.ReadPassphrase("Passphrase for the identity file: ")
		if err != nil {
			return err
		}
		id, err := export.GenerateKeys(cfg.Export.RecipientsFile, args[0], pass)
		if err != nil {
			return err
		}
		fmt.Printf("Recipient %s added to %s\n", id.Recipient(), cfg.Export.RecipientsFile)
		return nil
	},
}

var exportShowCmd = &cobra.Command{
	Use:   "show IDENTITY_FILE EXPORT_FILE",
	Short: "Decrypt an export and print its entries",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := export.ReadPassphrase("Passphrase for the identity file: ")
		if err != nil {
			return err
		}
		ids, err := export.UnlockIdentity(args[0], pass)
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("opening export: %w", err)
		}
		defer f.Close()

		return export.Read(f, ids, func(r export.Record) error {
			fmt.Printf("%s  %-12s  %+12d  tenant:%s  container:%s  %s\n",
				r.ID, r.Operation, r.Delta, r.TenantID, r.ContainerID, r.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run job workers, the reconcile schedule and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Serve", func(a *app.StaccApp) error {
			return a.Serve(cmd.Context())
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("actor", "", "Actor id recorded on ledger entries")

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// create subcommands
	for _, c := range []*cobra.Command{createTenantCmd, createContainerCmd, createCardCmd, createCommentCmd, createRichTextCmd} {
		c.Flags().String("id", "", "Record id (generated when empty)")
		createCmd.AddCommand(c)
	}

	// export subcommands
	exportCmd.AddCommand(exportKeygenCmd)
	exportCmd.AddCommand(exportShowCmd)
	exportCmd.Flags().StringArray("recipient", nil, "Additional age recipient (repeatable)")
	exportCmd.Flags().StringP("output", "o", "", "Write to FILE instead of stdout")
	exportCmd.Flags().Bool("no-recipients-file", false, "Ignore the configured recipients file")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().Bool("exact", false, "Also compute usage including pending entries")
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	rootCmd.AddCommand(materializeCmd)
	materializeCmd.Flags().Bool("all", false, "Materialize every tenant and container")
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("all", false, "Reconcile every tenant and container")
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().String("name", "", "Attachment name (defaults to the file name)")
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}
