package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes marked-attendance events and runs the auto-absent sweep on
// a fixed interval, keeping that write path out of the read handlers.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:checkins")
	}

	repo := attendance.NewRepository(db.Client)
	att := attendance.NewService(repo, repo, repo, logger)

	go runSweeper(ctx, att, cfg.SweepInterval, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != "attendance.marked" {
			continue
		}

		var rec attendance.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			logger.Warn("bad event payload", zap.Error(err))
			continue
		}
		logger.Info("attendance event",
			zap.String("record_id", rec.ID),
			zap.String("student_id", rec.StudentID),
			zap.String("class_id", rec.ClassID),
			zap.String("status", string(rec.Status)))
	}

	logger.Info("worker stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" || env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// runSweeper marks absentees once each class's auto-absent clock has passed.
// The sweep is idempotent, so a short interval only costs queries.
func runSweeper(ctx context.Context, att *attendance.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			created, err := att.SweepAll(ctx)
			if err != nil {
				logger.Warn("auto-absent sweep failed", zap.Error(err))
				continue
			}
			if created > 0 {
				metrics.SweepMarked.Add(float64(created))
				logger.Info("auto-absent sweep complete", zap.Int("created", created))
			}
		}
	}
}
