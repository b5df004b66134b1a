package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/observability"
	"github.com/xkilldash9x/e2e-harness/internal/testdata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newDataCmd() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect the test data documents the suites read",
	}
	dataCmd.AddCommand(
		newDataListCmd(),
		newDataGetCmd(),
		newDataHasCmd(),
		newDataWatchCmd(),
	)
	return dataCmd
}

// withManager opens the configured test data and passes the cache over it to fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, m *testdata.Manager) error) error {
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}
	return openManager(cmd.Context(), cfg.TestData(), func(ctx context.Context, m *testdata.Manager) error {
		return fn(ctx, cfg, m)
	})
}

func openManager(ctx context.Context, td config.TestDataConfig, fn func(ctx context.Context, m *testdata.Manager) error) error {
	m, cleanup, err := testdata.Open(ctx, td, observability.GetLogger())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, m)
}

func newDataListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, _ *config.Config, m *testdata.Manager) error {
				names, err := m.GetAvailableDataFiles(ctx)
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Name", "Type", "Entries"})
				for _, name := range names {
					doc, err := m.GetAllData(ctx, name)
					if err != nil {
						t.AppendRow(table.Row{name, "invalid", err.Error()})
						continue
					}
					kind, entries := describe(doc)
					t.AppendRow(table.Row{name, kind, entries})
				}
				t.AppendFooter(table.Row{"", "Total", len(names)})
				t.Render()
				return nil
			})
		},
	}
}

func describe(doc any) (string, int) {
	switch v := doc.(type) {
	case map[string]any:
		return "object", len(v)
	case []any:
		return "array", len(v)
	default:
		return "value", 1
	}
}

func newDataGetCmd() *cobra.Command {
	var format string

	getCmd := &cobra.Command{
		Use:   "get NAME [KEYPATH]",
		Short: "Print a document, or the value at a dotted key path inside it",
		Example: `  harness data get users
  harness data get users admin.credentials.username -o yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			marshal, err := marshalerFor(format)
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, _ *config.Config, m *testdata.Manager) error {
				var value any
				if len(args) == 2 {
					value, err = m.GetNestedData(ctx, args[0], args[1])
				} else {
					value, err = m.GetAllData(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return marshal(cmd.OutOrStdout(), value)
			})
		},
	}
	getCmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return getCmd
}

func marshalerFor(format string) (func(io.Writer, any) error, error) {
	switch strings.ToLower(format) {
	case "json":
		return func(w io.Writer, v any) error {
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode json: %w", err)
			}
			_, err = fmt.Fprintln(w, string(out))
			return err
		}, nil
	case "yaml", "yml":
		return func(w io.Writer, v any) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(v); err != nil {
				return fmt.Errorf("failed to encode yaml: %w", err)
			}
			return enc.Close()
		}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want json or yaml)", format)
	}
}

func newDataHasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has NAME KEY",
		Short: "Print whether a document has a top-level key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, _ *config.Config, m *testdata.Manager) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), m.HasKey(ctx, args[0], args[1]))
				return err
			})
		},
	}
}

func newDataWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load every document and log invalidations as files change",
		Long: `Preloads the file backend into a cache and watches its directory,
dropping a document from the cache whenever its file changes. Useful for
checking fixtures while editing them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			td := cfg.TestData()
			if !strings.EqualFold(td.Backend, config.BackendFile) {
				return errors.New("watch requires the file backend")
			}
			// The command always watches, whatever testdata.watch says.
			td.Watch = true
			logger := observability.GetLogger().Named("data")

			return openManager(cmd.Context(), td, func(ctx context.Context, m *testdata.Manager) error {
				names, err := m.GetAvailableDataFiles(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					if _, err := m.GetAllData(ctx, name); err != nil {
						logger.Warn("Document failed to load.", zap.String("name", name), zap.Error(err))
					}
				}
				logger.Info("Cache primed.", zap.Strings("documents", m.CachedNames()))

				<-ctx.Done()
				return nil
			})
		},
	}
}
