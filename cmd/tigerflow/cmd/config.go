package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tigerflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  tigerflow config dump > tigerflow-config.yaml

Configuration can be set via:
  - Config file (tigerflow.yaml, /etc/tigerflow, $HOME/.tigerflow)
  - Environment variables (TIGERFLOW_RUNTIME_TICK_INTERVAL, etc.)
  - Command-line flags (for some options)

Environment variables use the TIGERFLOW_ prefix and underscores for nesting.
Example: runtime.tick_interval -> TIGERFLOW_RUNTIME_TICK_INTERVAL`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations for human
// readability, using a reflect-over-struct-tags approach narrowed to this
// config's mapstructure tags and Duration type.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# tigerflow Configuration File")
	fmt.Println("# ============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d, 2w")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   TIGERFLOW_LOGGING_LEVEL, TIGERFLOW_LOGGING_FORMAT")
	fmt.Println("#   TIGERFLOW_RUNTIME_TICK_INTERVAL, TIGERFLOW_RUNTIME_IDLE_TIMEOUT")
	fmt.Println("#   TIGERFLOW_CLUSTER_MAX_WORKERS, TIGERFLOW_CLUSTER_CLIENT_WALL_TIME")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
