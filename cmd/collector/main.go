package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qa-infra/burner/pkg/runtime/logging"
	"github.com/qa-infra/burner/pkg/services/collector"
	"github.com/qa-infra/burner/pkg/services/config"
	"github.com/qa-infra/burner/pkg/services/inventory"
	"github.com/qa-infra/burner/pkg/services/pricing"
	"github.com/qa-infra/burner/pkg/store/elastic/spend"
)

const runDeadline = 5 * time.Minute

var (
	cfgPath     string
	pricingPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collector",
		Short: "Attribute the cost of running QA stacks to their owners",
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.cfg",
		"Path to the ini configuration file")
	rootCmd.Flags().StringVarP(&pricingPath, "pricing", "p", "",
		"Optional YAML file overriding the built-in pricing tables")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
	}

	logger, closeLog, err := logging.NewJobLogger("collector")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(cmd.Context(), runDeadline)
	defer cancel()
	ctx = logger.WithContext(ctx)

	logger.Info().Msg("started")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.AWS.Validate(); err != nil {
		return err
	}

	prices := pricing.Default()
	if pricingPath != "" {
		prices, err = pricing.Load(pricingPath)
		if err != nil {
			return err
		}
	}

	awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	spendStore, err := spend.NewStore(spend.Settings{
		Addresses:   []string{cfg.Elastic.Host},
		Username:    cfg.Elastic.Username,
		Password:    cfg.Elastic.Password,
		IndexPrefix: cfg.Elastic.IndexPrefix,
	})
	if err != nil {
		return err
	}
	if err := spendStore.EnsureIndex(ctx); err != nil {
		return err
	}

	col := collector.New(inventory.NewExplorer(awsCfg), prices, spendStore)
	if err := col.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("completed")
	return nil
}
