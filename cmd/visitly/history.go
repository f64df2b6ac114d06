package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"visitly-go/domain/target"
	"visitly-go/domain/visit"
	"visitly-go/infrastructure/config"
	"visitly-go/infrastructure/logging"
	"visitly-go/infrastructure/repository"
)

func newHistoryCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	var (
		targetFlag string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent target dispositions from the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := historyQuery(targetFlag, limit)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			return listHistory(cmd, cfg, q)
		},
	}

	cmd.Flags().StringVar(&targetFlag, "target", "", "only show records for this target's domain")
	cmd.Flags().IntVar(&limit, "limit", visit.DefaultLimit, "maximum number of records")
	return cmd
}

func historyQuery(targetFlag string, limit int) (visit.Query, error) {
	if limit < 0 {
		return visit.Query{}, fmt.Errorf("--limit must not be negative, got %d", limit)
	}
	q := visit.Query{Limit: limit}
	if targetFlag != "" {
		t, err := target.Parse(targetFlag)
		if err != nil {
			return visit.Query{}, fmt.Errorf("invalid --target: %w", err)
		}
		q.RootDomain = t.RootDomain
	}
	return q, nil
}

func listHistory(cmd *cobra.Command, cfg *config.Config, q visit.Query) error {
	logger, closeLog, err := logging.Setup(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	ctx := cmd.Context()
	mongoDB, err := repository.NewMongoDB(ctx, cfg.MongoDBConfig(), logger)
	if err != nil {
		return err
	}
	defer mongoDB.Close(context.Background())

	records, err := repository.NewMongoVisitRepository(mongoDB, logger).FindRecent(ctx, q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No records.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintln(out, rec.Summary())
	}
	return nil
}
