package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/attendance"
	"github.com/dp62042/duty-platform/internal/auth"
	"github.com/dp62042/duty-platform/internal/config"
	"github.com/dp62042/duty-platform/internal/gateway"
	"github.com/dp62042/duty-platform/internal/httpmiddleware"
	"github.com/dp62042/duty-platform/internal/qr"
	"github.com/dp62042/duty-platform/internal/queue"
	"github.com/dp62042/duty-platform/internal/roster"
	"github.com/dp62042/duty-platform/internal/session"
	"github.com/dp62042/duty-platform/internal/store"
)

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
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var audit queue.Queue
	if cfg.QueueBackend == "memory" {
		audit = queue.NewInMemory(64)
	} else {
		audit = queue.NewRedisQueue(redisClient.Client, "duty:audit")
	}

	qrgen := qr.NewGenerator(cfg.QRTTL)
	rosterRepo := roster.NewRepository(db.Client)
	sessionRepo := session.NewRepository(db.Client)
	sessionSvc := session.NewService(sessionRepo, rosterRepo, qrgen, cfg.SessionCodeLength, audit)
	recordRepo := attendance.NewRepository(db.Client)
	recorder := attendance.NewService(sessionSvc, rosterRepo, recordRepo, audit)

	hub := gateway.NewHub(recorder, sessionSvc)
	sessionSvc.SetNotifier(hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(cfg.ClientURL))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin,
		"/healthz", "/metrics", "/ws").GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "Duty API is running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.GET("/ws", hub.ServeWS())

	// Public join path; students have no password-gated login.
	r.POST("/api/attendance/mark", func(c *gin.Context) {
		var req struct {
			SessionCode        string `json:"sessionCode" binding:"required"`
			RegistrationNumber string `json:"registrationNumber" binding:"required"`
			StudentName        string `json:"studentName" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "sessionCode, registrationNumber and studentName are required"})
			return
		}
		res, err := recorder.Mark(c.Request.Context(), req.SessionCode, req.RegistrationNumber, req.StudentName, attendance.ChannelDirect)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Attendance marked successfully",
			"data":    res.Record,
		})
	})

	authed := r.Group("/api", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	reports := authed.Group("/attendance", auth.RequireCapability(auth.Role.CanViewReports))
	reports.GET("/session/:sessionId", func(c *gin.Context) {
		records, err := recorder.SessionAttendance(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "count": len(records), "data": records})
	})
	reports.GET("/student/:studentId", func(c *gin.Context) {
		from, to, err := dateRange(c)
		if err != nil {
			respondError(c, err)
			return
		}
		records, err := recorder.StudentHistory(c.Request.Context(), c.Param("studentId"), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "count": len(records), "data": records})
	})
	reports.GET("/class/:classId/report", func(c *gin.Context) {
		from, to, err := dateRange(c)
		if err != nil {
			respondError(c, err)
			return
		}
		report, err := recorder.ClassReport(c.Request.Context(), c.Param("classId"), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
	})

	sessions := authed.Group("/sessions", auth.RequireCapability(auth.Role.CanManageSessions))
	sessions.POST("/start", func(c *gin.Context) {
		var req struct {
			ClassID  string `json:"classId" binding:"required"`
			Location string `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "classId is required"})
			return
		}
		claims, _ := auth.FromContext(c)
		sess, err := sessionSvc.Start(c.Request.Context(), req.ClassID, claims.Subject, req.Location)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Session started successfully", "data": sess})
	})
	sessions.PUT("/end/:sessionId", func(c *gin.Context) {
		sess, err := sessionSvc.End(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session ended successfully", "data": sess})
	})
	sessions.POST("/:sessionId/refresh-qr", func(c *gin.Context) {
		sess, err := sessionSvc.RefreshQR(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "QR code refreshed", "data": gin.H{
			"qrCode":       sess.QRCode,
			"qrCodeExpiry": sess.QRCodeExpiry,
		}})
	})
	sessions.GET("/faculty", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		list, err := sessionSvc.ListByFaculty(c.Request.Context(), claims.Subject)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "count": len(list), "data": list})
	})
	sessions.GET("/:sessionId", func(c *gin.Context) {
		sess, err := sessionSvc.GetByID(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": sess})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Route " + c.Request.URL.Path + " not found"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondError maps application errors to the structured {success, message}
// body. Unexpected errors are logged with detail and masked for the client.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error on %s: %v", c.FullPath(), err)
	}
	c.JSON(status, gin.H{"success": false, "message": apperr.Message(err)})
}

// dateRange parses the optional startDate/endDate query pair (YYYY-MM-DD).
// Both must be present for the filter to apply; the end date is inclusive.
func dateRange(c *gin.Context) (*time.Time, *time.Time, error) {
	start, end := c.Query("startDate"), c.Query("endDate")
	if start == "" || end == "" {
		return nil, nil, nil
	}
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, nil, apperr.Validation("startDate must be YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, nil, apperr.Validation("endDate must be YYYY-MM-DD")
	}
	to = to.Add(24*time.Hour - time.Nanosecond)
	return &from, &to, nil
}

// CORS middleware for browser requests
func corsMiddleware(clientURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = clientURL
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
