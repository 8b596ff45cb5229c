package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/face"
	"rollcall/internal/faceclient"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" || env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
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

	extractor := faceclient.New(cfg.FaceServiceURL, cfg.EmbeddingDim, cfg.FaceSkip)
	matcher := face.NewMatcher(cfg.MatchThreshold)
	faces := face.NewService(extractor, face.NewStore(db.Client), matcher, repo, att, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		redisHealthy := redisClient.Healthy(ctx)
		dbHealthy := db.Client.PingContext(ctx) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	v1 := r.Group("/v1")

	v1.POST("/attendance/mark", func(c *gin.Context) {
		var req struct {
			StudentID   string   `json:"student_id" binding:"required"`
			ClassID     string   `json:"class_id" binding:"required"`
			Confidence  *float64 `json:"confidence_score"`
			CheckInType string   `json:"check_in_type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := att.Mark(c.Request.Context(), req.StudentID, req.ClassID, req.Confidence, req.CheckInType)
		if err != nil {
			code, reason := markErrorResponse(err)
			if reason != "" {
				metrics.CheckInRejections.WithLabelValues(reason).Inc()
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		metrics.CheckIns.WithLabelValues(string(rec.Status)).Inc()
		publishRecord(c.Request.Context(), q, rec, logger)

		c.JSON(http.StatusCreated, rec)
	})

	v1.POST("/attendance/sweep", func(c *gin.Context) {
		var req struct {
			ClassIDs []string `json:"class_ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var created int
		var err error
		if len(req.ClassIDs) > 0 {
			created, err = att.SweepAutoAbsent(c.Request.Context(), req.ClassIDs)
		} else {
			created, err = att.SweepAll(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.SweepMarked.Add(float64(created))
		c.JSON(http.StatusOK, gin.H{"marked_absent": created})
	})

	v1.GET("/attendance/today", func(c *gin.Context) {
		records, err := att.Today(c.Request.Context(), c.QueryArray("class_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	v1.GET("/attendance", func(c *gin.Context) {
		day, err := time.Parse("2006-01-02", c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		records, err := att.ByDate(c.Request.Context(), day, c.QueryArray("class_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	v1.GET("/attendance/summary", func(c *gin.Context) {
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		var day time.Time
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			day = parsed
		}
		summary, err := att.Summarize(c.Request.Context(), classID, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	v1.POST("/face/enroll", func(c *gin.Context) {
		studentID := c.PostForm("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
			return
		}
		image, ok := readUpload(c)
		if !ok {
			return
		}

		if err := faces.Enroll(c.Request.Context(), studentID, image); err != nil {
			switch {
			case errors.Is(err, attendance.ErrStudentNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, face.ErrDuplicateFace), errors.Is(err, face.ErrExtractionFailed):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "student_id": studentID})
	})

	v1.POST("/face/verify", func(c *gin.Context) {
		autoMark := c.PostForm("auto_mark") == "true" || c.PostForm("auto_mark") == "1"
		checkInType := c.PostForm("check_in_type")
		var classIDs []string
		if v := c.PostForm("class_id"); v != "" {
			classIDs = []string{v}
		}
		image, ok := readUpload(c)
		if !ok {
			return
		}

		result, err := faces.Verify(c.Request.Context(), image, classIDs, autoMark, checkInType)
		if err != nil {
			switch {
			case errors.Is(err, face.ErrNoEnrollments):
				metrics.MatchVerdicts.WithLabelValues("no_enrollments").Inc()
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, face.ErrExtractionFailed), errors.Is(err, face.ErrDimensionMismatch):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		if result.Matched {
			metrics.MatchVerdicts.WithLabelValues("match").Inc()
			if result.Record != nil {
				metrics.CheckIns.WithLabelValues(string(result.Record.Status)).Inc()
				publishRecord(c.Request.Context(), q, result.Record, logger)
			}
		} else {
			metrics.MatchVerdicts.WithLabelValues("no_match").Inc()
		}
		c.JSON(http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// markErrorResponse maps a Mark failure to an HTTP status and a metrics
// reason label; infrastructure errors get an empty reason.
func markErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrStudentNotFound):
		return http.StatusNotFound, "student_not_found"
	case errors.Is(err, attendance.ErrClassMismatch):
		return http.StatusForbidden, "class_mismatch"
	case errors.Is(err, attendance.ErrLateArrivalsDisabled):
		return http.StatusForbidden, "late_arrivals_disabled"
	case errors.Is(err, attendance.ErrAlreadyMarked):
		return http.StatusConflict, "already_marked"
	default:
		return http.StatusInternalServerError, ""
	}
}

func publishRecord(ctx context.Context, q queue.Queue, rec *attendance.Record, logger *zap.Logger) {
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := q.Publish(ctx, queue.Message{Type: "attendance.marked", Body: body}); err != nil {
		logger.Warn("queue publish failed", zap.Error(err))
	}
}

// readUpload pulls the image file out of a multipart form, responding with
// 400 itself when missing or unreadable.
func readUpload(c *gin.Context) ([]byte, bool) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return nil, false
	}
	return data, true
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
