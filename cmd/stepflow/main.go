// Package main is the entry point for the stepflow binary. It provides a CLI
// for executing, describing and serving configured document pipelines.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow-oss/pkg/config"
	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/logging"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
	"github.com/stepflow/stepflow-oss/pkg/steps"
)

const (
	defaultConfigPath = "stepflow.yaml"
	defaultLogLevel   = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for stepflow.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Document pipeline runner",
		Long: `Executes an ordered chain of processing steps over a shared document.

Pipelines are defined in a YAML file; steps run in configured order and any
step may short-circuit the chain.

Example:
  stepflow run --config stepflow.yaml document.json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to pipeline configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Enable pretty console logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [document.json]",
		Short: "Execute the configured pipeline against a document",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPipeline,
	}
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the ordered step metadata as JSON",
		Args:  cobra.NoArgs,
		RunE:  describePipeline,
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	doc := domain.NewDocument(uuid.NewString())
	if len(args) == 1 {
		if err := readDocument(args[0], doc); err != nil {
			return err
		}
	}

	if err := p.Execute(cmd.Context(), doc); err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func describePipeline(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	infos, err := p.Steps()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return fmt.Errorf("encode step metadata: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func loadConfigAndLogger(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := logLevel
	if level == defaultLogLevel && cfg.Logging.Level != "" {
		level = cfg.Logging.Level
	}
	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Pretty: pretty || cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// buildPipeline turns the configured step list into an executable pipeline.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline[*domain.Document], error) {
	catalog := steps.NewCatalog(logger)
	registry, err := catalog.Registry(cfg.Pipeline.Definitions())
	if err != nil {
		return nil, err
	}

	handles := registry.Build(cfg.Pipeline.Environment)
	return pipeline.New(handles,
		pipeline.WithName[*domain.Document](cfg.Pipeline.Name),
		pipeline.WithLogger[*domain.Document](logger),
	), nil
}

func readDocument(path string, doc *domain.Document) error {
	//nolint:gosec // Document path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", path, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	if doc.Variables == nil {
		doc.Variables = make(map[string]any)
	}
	return nil
}
