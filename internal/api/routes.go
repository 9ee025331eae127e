package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/api/handlers"
	"github.com/codyseavey/tcg-pricesync/internal/config"
	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/metrics"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

// SetupRouter builds the read-only reporting API over the price store.
func SetupRouter(store *services.PriceStore, cfg *config.Config, log *zap.Logger) *gin.Engine {
	log = logging.OrNop(log).Named("api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics(log))

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	cardHandler := handlers.NewCardHandler(store, log)
	runHandler := handlers.NewRunHandler(store, log)

	api := router.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.GET("/:id", cardHandler.GetCard)
			cards.GET("/:id/history", cardHandler.GetHistory)
		}

		runs := api.Group("/import-runs")
		{
			runs.GET("", runHandler.ListRuns)
			runs.GET("/:id", runHandler.GetRun)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		if err := ping(c, store); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

func ping(c *gin.Context, store *services.PriceStore) error {
	sqlDB, err := store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request.Context())
}

// requestMetrics records request counts and latency by route pattern, and logs each request
func requestMetrics(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())
		log.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	}
}
