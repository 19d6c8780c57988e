package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autoglm/autoagent/backend/settings"
)

func newConfigCmd(options *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and update the agent configuration",
	}

	cmd.AddCommand(newConfigShowCmd(options))
	cmd.AddCommand(newConfigSetKeyCmd(options))
	cmd.AddCommand(newConfigSetModelCmd(options))
	return cmd
}

func newConfigShowCmd(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := options.settings
			redacted.Planner.APIKey = redact(redacted.Planner.APIKey)
			redacted.Worker.APIKey = redact(redacted.Worker.APIKey)

			content, err := yaml.Marshal(redacted)
			if err != nil {
				return fmt.Errorf("marshal settings: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", filepath.Join(settings.ConfigDir(), "config.yaml"))
			fmt.Fprint(out, string(content))
			return nil
		},
	}
}

// newConfigSetKeyCmd stores an API key in the system keyring and records a
// reference to it in the config file, so the key itself never lands on disk.
func newConfigSetKeyCmd(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <planner|worker> <api-key>",
		Short: "Store an API key for one of the model roles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := roleConfig(&options.settings, args[0])
			if err != nil {
				return err
			}

			ref := args[0] + "-api-key"
			if err := settings.NewKeyringProvider().Set(ref, args[1]); err != nil {
				return fmt.Errorf("store credential: %w", err)
			}

			role.APIKeyRef = ref
			role.APIKey = ""
			if err := settings.Save(options.fs, options.settings); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored %s key as %q\n", args[0], ref)
			return nil
		},
	}
}

func newConfigSetModelCmd(options *globalOptions) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "set-model <planner|worker> <model>",
		Short: "Select the model for one of the roles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := roleConfig(&options.settings, args[0])
			if err != nil {
				return err
			}

			role.Model = args[1]
			if provider != "" {
				switch kind := settings.ProviderKind(provider); kind {
				case settings.ProviderZhipu, settings.ProviderOpenAI, settings.ProviderAnthropic,
					settings.ProviderDeepSeek, settings.ProviderGemini:
					role.Provider = kind
				default:
					return fmt.Errorf("unknown provider %q", provider)
				}
			}
			if err := settings.Save(options.fs, options.settings); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s now uses %s/%s\n", args[0], role.Provider, role.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "model provider (zhipu, openai, anthropic, deepseek, gemini)")
	return cmd
}

func roleConfig(s *settings.Settings, name string) (*settings.RoleConfig, error) {
	switch name {
	case "planner":
		return &s.Planner, nil
	case "worker":
		return &s.Worker, nil
	default:
		return nil, fmt.Errorf("unknown role %q, expected planner or worker", name)
	}
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
