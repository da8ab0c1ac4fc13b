package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haivivi/spkid/cmd/spkid/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration that train and infer would use: defaults, then
the --config file, then any flags given here. Options that differ from the
defaults are annotated with the default value.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return renderConfig(cmd.OutOrStdout(), cfg, config.Default())
	},
}

func init() {
	addConfigFlags(configShowCmd, flagsTrain|flagsInfer)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// renderConfig writes cfg as YAML in field order, commenting each value
// that differs from def.
func renderConfig(w io.Writer, cfg, def config.Config) error {
	var doc, defDoc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return err
	}
	if err := defDoc.Encode(def); err != nil {
		return err
	}
	if len(doc.Content) != len(defDoc.Content) {
		return fmt.Errorf("config: key sets differ")
	}
	for i := 1; i < len(doc.Content); i += 2 {
		v, d := doc.Content[i], defDoc.Content[i]
		if v.Value != d.Value {
			dv := d.Value
			if dv == "" {
				dv = strconv.Quote(dv)
			}
			v.LineComment = "default: " + dv
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}
