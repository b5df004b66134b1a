// File: cmd/report.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/observability"
	"github.com/xkilldash9x/e2e-harness/internal/reporting"
)

// errTestsFailed is returned under --strict when the run had failures.
var errTestsFailed = errors.New("test run failed")

// reportSender delivers a rendered report. *reporting.Mailer implements it.
type reportSender interface {
	Send(ctx context.Context, s *reporting.Summary, html []byte) error
}

// newSender builds the sender for --email. Tests replace it.
var newSender = func(cfg config.ReportingConfig, logger *zap.Logger) (reportSender, error) {
	return reporting.NewMailer(cfg, logger)
}

type reportOptions struct {
	input     string
	htmlPath  string
	junitPath string
	repo      string
	title     string
	email     bool
	strict    bool
}

func newReportCmd() *cobra.Command {
	opts := &reportOptions{}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a `go test -json` run as text, HTML, JUnit, or email",
		Long: `Parses the event stream written by "go test -json", prints a summary
table, and optionally writes an HTML report, a JUnit XML file, and emails
the HTML report to the configured recipients.`,
		Example: `  go test -json ./e2e/... > results.json
  harness report --input results.json --html out/report.html --junit out/junit.xml --email`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			return runReport(cmd.Context(), cmd, cfg, opts, observability.GetLogger().Named("report"))
		},
	}

	reportCmd.Flags().StringVarP(&opts.input, "input", "i", "", "go test -json output file, or - for stdin (required)")
	reportCmd.Flags().StringVar(&opts.htmlPath, "html", "", "write the HTML report to this path")
	reportCmd.Flags().StringVar(&opts.junitPath, "junit", "", "write JUnit XML to this path")
	reportCmd.Flags().StringVar(&opts.repo, "repo", ".", "git repository to read commit details from; empty to skip")
	reportCmd.Flags().StringVar(&opts.title, "title", "", "report title (default reporting.title)")
	reportCmd.Flags().BoolVar(&opts.email, "email", false, "email the HTML report via reporting.smtp")
	reportCmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any test or package failed")
	_ = reportCmd.MarkFlagRequired("input")

	return reportCmd
}

func runReport(ctx context.Context, cmd *cobra.Command, cfg config.Interface, opts *reportOptions, logger *zap.Logger) error {
	in, closeInput, err := openInput(cmd, opts.input)
	if err != nil {
		return err
	}
	summary, err := reporting.Parse(in)
	closeInput()
	if err != nil {
		return err
	}
	if summary.Unparsed > 0 {
		logger.Debug("Skipped non-JSON lines in test output.", zap.Int("lines", summary.Unparsed))
	}

	meta := reporting.Meta{
		Title:       opts.title,
		Generated:   time.Now(),
		Environment: cfg.App().BaseURL,
		RunID:       observability.RunID(),
	}
	if meta.Title == "" {
		meta.Title = cfg.Reporting().Title
	}
	if opts.repo != "" {
		info, err := reporting.LookupGitInfo(opts.repo)
		if err != nil {
			logger.Warn("Commit details unavailable.", zap.String("repo", opts.repo), zap.Error(err))
		} else {
			meta.Git = info
		}
	}

	// The HTML body is needed for both --html and --email; JUnit renders alongside it.
	var html bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return reporting.RenderHTML(&html, summary, meta) })
	if opts.junitPath != "" {
		g.Go(func() error {
			if err := ensureParentDir(opts.junitPath); err != nil {
				return err
			}
			return reporting.WriteFile(reporting.FormatJUnit, opts.junitPath, summary, meta)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.htmlPath != "" {
		if err := ensureParentDir(opts.htmlPath); err != nil {
			return err
		}
		if err := os.WriteFile(opts.htmlPath, html.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write html report: %w", err)
		}
	}

	if err := reporting.WriteText(cmd.OutOrStdout(), summary); err != nil {
		return fmt.Errorf("failed to print summary: %w", err)
	}

	if opts.email {
		sender, err := newSender(cfg.Reporting(), logger)
		if err != nil {
			return fmt.Errorf("cannot email report: %w", err)
		}
		if err := sender.Send(ctx, summary, html.Bytes()); err != nil {
			return err
		}
	}

	logger.Info("Report generated.",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.String("html", opts.htmlPath),
		zap.String("junit", opts.junitPath),
		zap.Bool("emailed", opts.email),
	)

	if opts.strict && !summary.Success() {
		return errTestsFailed
	}
	return nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open test output %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
