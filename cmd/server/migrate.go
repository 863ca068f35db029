package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	var date, title string
	var seats int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and optionally register a concert date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, driver, err := database.Open(ctx, rt.cfg.DSN(), database.WithLogger(rt.logger.Named("gorm")))
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			if err := database.Migrate(db); err != nil {
				return err
			}
			rt.logger.Info("schema migrated", zap.String("driver", driver))

			if strings.TrimSpace(date) == "" {
				return nil
			}
			if _, err := time.Parse(model.DateLayout, date); err != nil {
				return fmt.Errorf("--date %q: %w", date, err)
			}
			if seats < 1 {
				seats = rt.cfg.Reservation.DefaultSeats
			}
			sched := &model.ConcertSchedule{ConcertDate: date, Title: title, TotalSeats: seats}
			if err := repository.NewScheduleRepo(db).Upsert(ctx, sched); err != nil {
				return err
			}
			rt.logger.Info("schedule registered", zap.String("date", date), zap.Int("total_seats", seats))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "concert date (YYYY-MM-DD) to register")
	cmd.Flags().StringVar(&title, "title", "", "concert title")
	cmd.Flags().IntVar(&seats, "seats", 0, "seat count for --date (defaults to SCHEDULE_DEFAULT_SEATS)")
	return cmd
}
