package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/autoforge/autoforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for viewing and modifying autoforge.yaml and model_config.yaml.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in autoforge.yaml",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate autoforge.yaml and model_config.yaml",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	modelCfg, err := config.LoadModelConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load model config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	modelOut, err := yaml.Marshal(modelCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal model config: %w", err)
	}

	fmt.Println("autoforge.yaml:")
	fmt.Println("---------------")
	fmt.Println(string(out))
	fmt.Println("model_config.yaml:")
	fmt.Println("-------------------")
	fmt.Println(string(modelOut))

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	}

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configFile := "autoforge.yaml"
	if viper.ConfigFileUsed() != "" {
		configFile = viper.ConfigFileUsed()
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg map[string]interface{}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	setNestedValue(cfg, key, value)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var problems []string

	if _, err := config.Load("."); err != nil {
		problems = append(problems, fmt.Sprintf("autoforge.yaml: %v", err))
	} else {
		fmt.Println("autoforge.yaml: OK")
	}

	if _, err := config.LoadModelConfig("."); err != nil {
		problems = append(problems, fmt.Sprintf("model_config.yaml: %v", err))
	} else {
		fmt.Println("model_config.yaml: OK")
	}

	if len(problems) > 0 {
		fmt.Println("\nValidation Errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("validation failed with %d errors", len(problems))
	}

	fmt.Println("\nAll configuration valid.")
	return nil
}

func setNestedValue(m map[string]interface{}, key, value string) {
	parts := splitKey(key)
	if len(parts) == 1 {
		m[key] = value
		return
	}

	current := m
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		if next, ok := current[parts[i]].(map[string]interface{}); ok {
			current = next
		} else {
			return
		}
	}
	current[parts[len(parts)-1]] = value
}

func splitKey(key string) []string {
	var parts []string
	current := ""
	for _, c := range key {
		if c == '.' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}
