package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/admission"
	"github.com/iliyamo/concert-ticketing/internal/catalog"
	"github.com/iliyamo/concert-ticketing/internal/config"
	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/handler"
	"github.com/iliyamo/concert-ticketing/internal/lock"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
	"github.com/iliyamo/concert-ticketing/internal/queue"
	"github.com/iliyamo/concert-ticketing/internal/ranking"
	"github.com/iliyamo/concert-ticketing/internal/repository"
	"github.com/iliyamo/concert-ticketing/internal/reservation"
	"github.com/iliyamo/concert-ticketing/internal/router"
	"github.com/iliyamo/concert-ticketing/internal/scheduler"
	"github.com/iliyamo/concert-ticketing/internal/seathold"
	"github.com/iliyamo/concert-ticketing/internal/wallet"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rt *runtime) *cobra.Command {
	var autoMigrate, withConsumer bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the admission scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt, autoMigrate, withConsumer)
		},
	}
	cmd.Flags().String(flagPort, "", "HTTP port")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply schema migrations before serving")
	cmd.Flags().BoolVar(&withConsumer, "with-consumer", false, "also run the ranking consumer in this process")
	return cmd
}

// deps are the shared connections every long-running command opens.
type deps struct {
	db        *gorm.DB
	rdb       *redis.Client
	locker    *lock.Locker
	schedules *catalog.Directory
	tracker   *ranking.Tracker
}

func openDeps(ctx context.Context, rt *runtime) (*deps, func(), error) {
	db, driver, err := database.Open(ctx, rt.cfg.DSN(), database.WithLogger(rt.logger.Named("gorm")))
	if err != nil {
		return nil, nil, err
	}
	rdb, err := config.NewRedisClient(ctx, rt.cfg.Redis)
	if err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	rt.logger.Info("connected", zap.String("driver", driver), zap.String("redis", rt.cfg.Redis.Addr))

	schedules := catalog.NewDirectory(repository.NewScheduleRepo(db), rt.cfg.Reservation.DefaultSeats)
	d := &deps{
		db:        db,
		rdb:       rdb,
		locker:    lock.NewLocker(rdb, lock.WithLogger(rt.logger.Named("lock"))),
		schedules: schedules,
		tracker:   ranking.NewTracker(rdb, schedules, rt.cfg.RankingWindow, rt.logger.Named("ranking")),
	}
	cleanup := func() {
		_ = rdb.Close()
		_ = database.Close(db)
	}
	return d, cleanup, nil
}

func serve(ctx context.Context, rt *runtime, autoMigrate, withConsumer bool) error {
	cfg, logger := rt.cfg, rt.logger
	d, cleanup, err := openDeps(ctx, rt)
	if err != nil {
		return err
	}
	defer cleanup()
	if autoMigrate {
		if err := database.Migrate(d.db); err != nil {
			return err
		}
	}

	queueMgr := admission.NewManager(repository.NewQueueTokenRepo(d.db), d.rdb, d.locker, admission.Config{
		MaxActiveUsers: cfg.Queue.MaxActiveUsers,
		TokenTTL:       cfg.Queue.TokenTTL,
	}, logger.Named("admission"))
	ledger := wallet.NewLedger(repository.NewWalletRepo(d.db), wallet.WithLogger(logger.Named("wallet")))

	var publisher reservation.Publisher = queue.NopPublisher{}
	if cfg.EventsEnabled {
		p := queue.NewPublisher(cfg.RabbitURL, logger.Named("publisher"))
		defer func() { _ = p.Close() }()
		publisher = p
	}
	reservations := reservation.NewService(reservation.Deps{
		Queue:     queueMgr,
		Holds:     seathold.NewManager(d.rdb),
		Payments:  ledger,
		Confirmed: repository.NewConfirmedReservationRepo(d.db),
		Pricing:   catalog.FixedPricing{Price: cfg.Reservation.SeatPrice},
		Schedules: d.schedules,
		Publisher: publisher,
		Locks:     d.locker,
		Logger:    logger.Named("reservation"),
	}, reservation.Config{
		HoldTTL:        cfg.Reservation.HoldTTL,
		ConfirmLockTTL: cfg.Reservation.ConfirmLockTTL,
	})

	jobs := scheduler.New(d.locker, []scheduler.Job{
		{Name: "activate", Interval: cfg.Queue.ActivateInterval, Run: queueMgr.ActivateBatch},
		{Name: "sweep", Interval: cfg.Queue.SweepInterval, Run: queueMgr.SweepExpired},
	}, logger.Named("scheduler"))
	bgCtx, stopBackground := context.WithCancel(ctx)
	jobs.Start(bgCtx)
	defer func() {
		stopBackground()
		jobs.Wait()
	}()

	if withConsumer && cfg.EventsEnabled {
		consumer := queue.NewConsumer(cfg.RabbitURL, d.tracker.Handle, logger.Named("consumer"))
		go func() {
			if err := consumer.Run(bgCtx); err != nil {
				logger.Error("ranking consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.Named("http")))
	router.RegisterRoutes(e, router.Handlers{
		Queue:        handler.NewQueueHandler(queueMgr),
		Reservations: handler.NewReservationHandler(reservations),
		Wallet:       handler.NewWalletHandler(ledger),
		Rankings:     handler.NewRankingHandler(d.tracker),
		Ready: handler.Ready(map[string]handler.Check{
			"database": func(ctx context.Context) error {
				sqlDB, err := d.db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error { return d.rdb.Ping(ctx).Err() },
		}),
	}, router.Middleware{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, d.rdb, logger.Named("ratelimit")),
		Cache:     middleware.NewRedisCache(cfg.Cache, d.rdb),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		errCh <- e.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
