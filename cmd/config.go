package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/e2e-harness/internal/config"
)

const redacted = "REDACTED"

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (file, environment, defaults) as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			doc, err := redactedView(cfg)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	})
	return configCmd
}

// redactedView renders cfg as a generic YAML tree. Secret fields are
// excluded from the struct encoding, so they are added back masked when set.
func redactedView(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	secrets := []struct {
		set  bool
		path []string
	}{
		{cfg.API().Auth.Token != "", []string{"api", "auth", "token"}},
		{cfg.API().Auth.JWTSecret != "", []string{"api", "auth", "jwt_secret"}},
		{cfg.TestData().DatabaseURL != "", []string{"testdata", "database_url"}},
		{cfg.Reporting().SMTP.Password != "", []string{"reporting", "smtp", "password"}},
	}
	for _, s := range secrets {
		if s.set {
			setPath(doc, s.path, redacted)
		}
	}
	return doc, nil
}

func setPath(doc map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := doc[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			doc[key] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}
