package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-import/internal/app"
	"github.com/dvloznov/finance-import/internal/blob"
	bq "github.com/dvloznov/finance-import/internal/infra/bigquery"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/processor"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var appliedBy string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and list the applied ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Store.Migrate(ctx, appliedBy)
				if err != nil {
					return err
				}
				applied, err := a.Store.AppliedMigrations(ctx)
				if err != nil {
					return err
				}
				for _, m := range applied {
					printInfo(fmt.Sprintf("%04d_%s  applied %s by %s", m.Version, m.Name, m.AppliedAt, m.AppliedBy))
				}
				if n == 0 {
					printSuccess("Database is up to date")
				} else {
					printSuccess(fmt.Sprintf("Applied %d migration(s)", n))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&appliedBy, "applied-by", "migrate-cli", "name recorded for migrations applied by this run")
	return cmd
}

// queuedRuns collects published messages so the CLI can run them inline.
type queuedRuns struct {
	messages []*jobs.ProcessImportMessage
}

func (q *queuedRuns) PublishImport(ctx context.Context, msg *jobs.ProcessImportMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

func (q *queuedRuns) Close() error { return nil }

func newImportCommand(opts *globalOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "import <file | gs://bucket/object>",
		Short: "Register a file and run its import synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				name, r, err := openInput(ctx, args[0])
				if err != nil {
					return err
				}
				defer r.Close()

				src := jobs.Source(strings.ToUpper(source))
				if src == "" {
					var ok bool
					if src, ok = a.Factory.SourceFor(path.Ext(name)); !ok {
						return fmt.Errorf("cannot infer source for %q, pass --source (supported: %s)",
							name, strings.Join(a.Factory.Supported(), ", "))
					}
				}

				queue := &queuedRuns{}
				svc := a.Service(queue)
				job, err := svc.Register(ctx, opts.owner, src, name, r)
				if err != nil {
					return err
				}
				printInfo(fmt.Sprintf("Registered import %s", job.ID))

				taskID, err := svc.Trigger(ctx, opts.owner, job.ID)
				if err != nil {
					return err
				}
				start := time.Now()
				runErr := a.Runner().Run(ctx, opts.owner, job.ID)

				job, err = svc.Get(ctx, opts.owner, job.ID)
				if err != nil {
					return err
				}
				printJob(job)
				if runErr != nil {
					return fmt.Errorf("import %s failed (task %s)", job.ID, taskID)
				}
				if job.ProcessedItems < job.TotalItems {
					printWarning(fmt.Sprintf("%d row(s) were not imported", job.TotalItems-job.ProcessedItems))
				}
				printSuccess(fmt.Sprintf("Import finished in %s", time.Since(start).Round(time.Millisecond)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "declared source (TABULAR, BANK_EXCHANGE, ...); inferred from the extension when empty")
	return cmd
}

// openInput opens a local path or a gs:// object.
func openInput(ctx context.Context, arg string) (string, io.ReadCloser, error) {
	if !strings.HasPrefix(arg, "gs://") {
		f, err := os.Open(arg)
		if err != nil {
			return "", nil, err
		}
		return path.Base(f.Name()), f, nil
	}

	bucket, key, err := blob.ParseGCSURI(arg)
	if err != nil {
		return "", nil, err
	}
	store, err := blob.NewGCSStore(ctx, bucket)
	if err != nil {
		return "", nil, err
	}
	r, err := store.Open(ctx, key)
	if err != nil {
		store.Close()
		return "", nil, err
	}
	return path.Base(key), &closeBoth{ReadCloser: r, after: store.Close}, nil
}

type closeBoth struct {
	io.ReadCloser
	after func() error
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if aerr := c.after(); err == nil {
		err = aerr
	}
	return err
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one import job, or list the owner's jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					job, err := a.Store.GetJob(ctx, opts.owner, args[0])
					if err != nil {
						return err
					}
					printJob(job)
					return nil
				}

				list, err := a.Store.ListJobs(ctx, jobs.JobFilter{
					OwnerID: opts.owner,
					Status:  jobs.JobStatus(strings.ToUpper(status)),
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if len(list) == 0 {
					printInfo("No imports found")
					return nil
				}
				for _, job := range list {
					printJobRow(job)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list")
	return cmd
}

func newTemplateCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the spreadsheet import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := processor.WriteTemplate(f, time.Now()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Template written to %s", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", processor.TemplateFileName, "output path")
	return cmd
}

func newReapCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Fail imports stuck in PROCESSING longer than worker.max_processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Reaper().ReapOnce(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					printSuccess("No stale imports")
					return nil
				}
				printWarning(fmt.Sprintf("Failed %d stale import(s)", n))
				return nil
			})
		},
	}
}

func newBQInitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bq-init",
		Short: "Create the BigQuery mirror tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if cfg.BigQuery.Project == "" {
				return fmt.Errorf("bigquery.project is required")
			}
			exporter, err := bq.NewExporter(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
			if err != nil {
				return err
			}
			defer exporter.Close()

			created, err := exporter.EnsureTables(ctx)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				printSuccess("Tables already exist")
				return nil
			}
			for _, name := range created {
				printSuccess(fmt.Sprintf("Created %s.%s", cfg.BigQuery.Dataset, name))
			}
			return nil
		},
	}
}
