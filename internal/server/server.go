package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/auth"
	"github.com/r15huu/HikeMates/internal/config"
	"github.com/r15huu/HikeMates/internal/db"
	"github.com/r15huu/HikeMates/internal/hike"
	"github.com/r15huu/HikeMates/internal/logger"
	"github.com/r15huu/HikeMates/internal/metrics"
	"github.com/r15huu/HikeMates/internal/trail"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      db.Pool
	Redis   *redis.Client
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func NewServer(cfg config.Config, pool db.Pool, redisClient *redis.Client, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	app := fiber.New(fiber.Config{
		AppName:      "HikeMates",
		ErrorHandler: apperr.Handler(log),
	})
	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      pool,
		Redis:   redisClient,
		Log:     log,
		Metrics: metrics.New(),
	}

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	if cfg.FrontendURL != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.FrontendURL,
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
			AllowCredentials: true,
		}))
	}
	app.Use(s.Metrics.Middleware())

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", s.Metrics.Handler())

	requireAuth := auth.JWTMiddleware(s.Cfg.JWTSecret)
	optionalAuth := auth.OptionalJWT(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB), requireAuth)

	hikes := hike.NewService(s.DB, hike.Config{
		EnforceCapacity: s.Cfg.EnforceHikeCapacity,
		Logger:          s.Log.WithField("component", "hike"),
		Metrics:         s.Metrics,
	})
	hike.RegisterRoutes(s.App.Group("/hikes"), hikes, requireAuth, optionalAuth)

	trails := trail.NewService(trail.NewClient(trail.DefaultClientConfig(s.Cfg)), trail.Config{
		Cache:   s.Redis,
		TTL:     s.Cfg.TrailCacheTTL,
		Logger:  s.Log.WithField("component", "trail"),
		Metrics: s.Metrics,
	})
	trail.RegisterRoutes(s.App.Group("/trails", trailLimiter(s.Cfg.TrailRateLimit)), trails)
}

// trailLimiter keeps clients from exhausting the shared OpenStreetMap quota.
func trailLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return apperr.New(apperr.KindRateLimited, "Request was throttled. Try again in a minute.")
		},
	})
}
