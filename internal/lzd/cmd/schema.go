package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// LzdConfig represents configuration for the lzd tool
type LzdConfig struct {
	Debug    bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	Threads  int    `json:"threads" jsonschema:"title=Threads,description=Worker count for the decode pool"`
	LogLevel string `json:"logLevel" jsonschema:"title=Log Level,description=Log level: debug info warn error"`
	NoColor  bool   `json:"noColor" jsonschema:"title=No Color,description=Disable syntax highlighting in listings"`
}

var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Generate JSON schema for configuration",
	Long:   "Generate JSON schema for the lzd configuration",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		bts, err := json.MarshalIndent(reflector.Reflect(&LzdConfig{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Println(string(bts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
