package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"absensi/internal/attendance"
	"absensi/internal/auth"
	"absensi/internal/config"
	"absensi/internal/doorlock"
	"absensi/internal/httpmiddleware"
	"absensi/internal/metrics"
	"absensi/internal/queue"
	"absensi/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	loc := cfg.Location()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	repo := attendance.NewRepository(db.Client, loc)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		return err
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	door := doorlock.New(doorlock.Config{
		BaseURL:        cfg.DoorURL,
		Token:          cfg.DoorToken,
		Delay:          cfg.DoorDelaySeconds,
		Enabled:        cfg.DoorEnabled,
		ConnectTimeout: cfg.DoorConnectTimeout,
		Timeout:        cfg.DoorTimeout,
	})

	mets := metrics.New()
	guard := attendance.NewRateGuard(repo, time.Duration(cfg.RateLimitSeconds)*time.Second)
	svc := attendance.NewService(repo, repo, guard, door, q, mets)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cfg.AdminPass == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login not configured"})
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(cfg.AdminUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(cfg.AdminPass)) == 1
		if !userOK || !passOK {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, exp, err := auth.Issue(req.Username, "admin", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// Kiosk flow: legacy shared-token clients, throttled per IP.
	kiosk := r.Group("/v1/attendance", httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	kiosk.POST("/submit", func(c *gin.Context) {
		var req struct {
			Token      string `json:"token"`
			Kode       string `json:"kode"`
			Kodes      string `json:"kodes"`
			Code       string `json:"code"`
			Status     string `json:"status"`
			DeviceCode string `json:"device_code"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid request body"})
			return
		}

		// Historical kiosks send the shared token in the body; newer ones
		// use the X-API-KEY header. Either is accepted.
		token := c.GetHeader("X-API-KEY")
		if token == "" {
			token = req.Token
		}
		if cfg.APIToken == "" || token != cfg.APIToken {
			c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Invalid token"})
			return
		}

		code := firstNonEmpty(req.Kode, req.Kodes, req.Code)
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Kode karyawan wajib diisi"})
			return
		}
		if strings.TrimSpace(req.Status) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Status absensi wajib diisi"})
			return
		}
		status, ok := attendance.ParseStatus(req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Status tidak valid. Gunakan: masuk, pulang, lembur, pulang_lembur"})
			return
		}
		deviceCode := req.DeviceCode
		if deviceCode == "" {
			deviceCode = cfg.DeviceCode
		}

		res, err := svc.RecordEvent(c.Request.Context(), code, status, deviceCode)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeRecordSuccess(c, res)
	})

	kiosk.GET("/logs", func(c *gin.Context) {
		day := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid date, use YYYY-MM-DD"})
				return
			}
			day = parsed
		}
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		logs, err := repo.ListLogs(c.Request.Context(), day, c.Query("employee_code"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Terjadi kesalahan sistem"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": logs})
	})

	kiosk.GET("/today", func(c *gin.Context) {
		summary, err := repo.TodaySummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Terjadi kesalahan sistem"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": summary})
	})

	kiosk.GET("/check/:code", func(c *gin.Context) {
		st, err := svc.CheckToday(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
	})

	kiosk.GET("/door/health", func(c *gin.Context) {
		healthy := door.Health(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"healthy": healthy})
	})

	// Admin flow: session-authenticated, same attendance core.
	admin := r.Group("/v1/admin", auth.SessionAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/attendance", func(c *gin.Context) {
		var req struct {
			Code   string `json:"code" binding:"required"`
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		status, ok := attendance.ParseStatus(req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Status tidak valid. Gunakan: masuk, pulang, lembur, pulang_lembur"})
			return
		}
		res, err := svc.RecordEvent(c.Request.Context(), req.Code, status, "ADMIN")
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeRecordSuccess(c, res)
	})

	admin.POST("/employees", func(c *gin.Context) {
		var req struct {
			Code   string `json:"code" binding:"required"`
			Name   string `json:"name" binding:"required"`
			Active *bool  `json:"active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		if err := repo.UpsertEmployee(c.Request.Context(), attendance.Employee{Code: req.Code, Name: req.Name, Active: active}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Terjadi kesalahan sistem"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	admin.POST("/door/open", func(c *gin.Context) {
		var req struct {
			Delay int `json:"delay"`
		}
		_ = c.ShouldBindJSON(&req)
		outcome := door.OpenManual(c.Request.Context(), req.Delay)
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": outcome})
	})

	admin.GET("/door/status", func(c *gin.Context) {
		data, err := door.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func writeRecordSuccess(c *gin.Context, res attendance.Result) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Absensi " + string(res.Status) + " berhasil",
		"data": gin.H{
			"nama":           res.Name,
			"kode":           res.Code,
			"status":         res.Status,
			"waktu":          res.Time.Format(timeLayout),
			"door_triggered": res.DoorTriggered,
		},
	})
}

// writeServiceError maps the service error taxonomy onto HTTP codes.
func writeServiceError(c *gin.Context, err error) {
	var nf *attendance.NotFoundError
	var ia *attendance.InactiveError
	var rl *attendance.RateLimitedError
	var te *attendance.TransitionError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case errors.As(err, &ia):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": err.Error()})
	case errors.As(err, &rl):
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "message": err.Error(), "wait_seconds": rl.Wait})
	case errors.As(err, &te):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		log.Printf("attendance request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Terjadi kesalahan sistem"})
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
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
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-KEY")
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
