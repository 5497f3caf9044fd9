package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medisched/clinic-scheduling/internal/config"
	"github.com/medisched/clinic-scheduling/internal/db"
	"github.com/medisched/clinic-scheduling/internal/notify"
	redisclient "github.com/medisched/clinic-scheduling/internal/redis"
	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

// The worker sweeps due reminders on a fixed interval, dispatches each
// one, and records the outcome. A reminder that keeps failing is retried
// on later sweeps until its attempt budget runs out.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "reminder-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdbCtx, cancelRdb := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(rdbCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRdb()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	store := scheduling.NewPgStore(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	dispatcher := notify.NewRedisDispatcher(rdb, logger)

	plan := scheduling.ReminderPlan{
		Offsets:     cfg.ReminderOffsets,
		MaxAttempts: cfg.ReminderMaxAttempts,
	}
	for _, ch := range cfg.ReminderChannels {
		plan.Channels = append(plan.Channels, scheduling.ReminderChannel(ch))
	}
	svc := scheduling.NewService(store, locker, dispatcher, plan, logger)

	sweep(rootCtx, cfg, svc, dispatcher, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			sweep(rootCtx, cfg, svc, dispatcher, logger)
		}
	}
}

func sweep(ctx context.Context, cfg config.Config, svc *scheduling.Service, dispatcher scheduling.Dispatcher, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	due, err := svc.DueReminders(runCtx, start)
	if err != nil {
		logger.Error().Err(err).Msg("due reminder query failed")
		return
	}

	var sent, failed int
	for i := range due {
		rem := &due[i]
		if err := deliver(runCtx, cfg, svc, dispatcher, rem); err != nil {
			failed++
			logger.Warn().Err(err).
				Str("reminder_id", rem.ID.String()).
				Str("channel", string(rem.Channel)).
				Int("attempts", rem.Attempts+1).
				Msg("reminder delivery failed")
			continue
		}
		sent++
	}

	logger.Info().
		Int("due", len(due)).
		Int("sent", sent).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("sweep complete")
}

func deliver(ctx context.Context, cfg config.Config, svc *scheduling.Service, dispatcher scheduling.Dispatcher, rem *scheduling.AppointmentReminder) error {
	detail, err := svc.GetAppointment(ctx, rem.AppointmentID)
	if err != nil {
		return err
	}

	payload, err := scheduling.ReminderPayload(rem, detail)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.DispatchTimeout)
	err = dispatcher.Send(sendCtx, rem.Channel, scheduling.ReminderRecipient(rem.Channel, detail.Patient), payload)
	cancel()

	if _, markErr := svc.MarkReminderOutcome(ctx, rem.ID, err == nil); markErr != nil {
		return markErr
	}
	return err
}
