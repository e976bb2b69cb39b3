package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qa-infra/burner/pkg/runtime/logging"
	"github.com/qa-infra/burner/pkg/services/config"
	"github.com/qa-infra/burner/pkg/services/mailer"
	"github.com/qa-infra/burner/pkg/services/report"
	"github.com/qa-infra/burner/pkg/store/elastic/spend"
)

const runDeadline = 5 * time.Minute

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sender",
		Short: "Email the ranked weekly spend report",
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.cfg",
		"Path to the ini configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
	}

	logger, closeLog, err := logging.NewJobLogger("sender")
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
	if err := cfg.Email.Validate(); err != nil {
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

	var actuals report.ActualsFetcher
	if cfg.AWS.Actuals {
		awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		actuals = report.NewActuals(awsCfg)
	}

	builder := report.NewBuilder(report.Options{
		Store:   spendStore,
		Actuals: actuals,
	})
	rep := builder.Build(ctx)

	if err := mailer.Send(cfg.Email, builder.Subject(), rep.Plain, rep.HTML); err != nil {
		return err
	}

	logger.Info().Str("to", cfg.Email.To).Int("users", len(rep.Rows)).Msg("report sent")
	logger.Info().Msg("completed")
	return nil
}
