package cmd

import (
	"fmt"
	"os"

	common "github.com/404wolf/firefuse/common"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	yamlcomment "github.com/zijiren233/yaml-comment"
)

// renderConfig formats a mount configuration as commented firefuse.yaml
func renderConfig(config common.FirefuseConfig) ([]byte, error) {
	return yamlcomment.Marshal(config)
}

// checkConfig parses firefuse.yaml on top of the defaults, rejecting keys
// firefuse does not know
func checkConfig(data []byte) (common.FirefuseConfig, error) {
	config := common.DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, &config, yaml.DisallowUnknownField()); err != nil {
		return config, err
	}
	return config, validateConfig(config)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default mount configuration as firefuse.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := renderConfig(common.DefaultConfig())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a firefuse.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if _, err := checkConfig(data); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
		return nil
	},
}

func ConfigInit() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
