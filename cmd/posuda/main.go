package main

import (
	"context"
	"io"
	"log"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"posuda/internal/cache"
	"posuda/internal/clock"
	"posuda/internal/config"
	"posuda/internal/http/handlers"
	applog "posuda/internal/log"
	"posuda/internal/repos"
	"posuda/internal/services"
	"posuda/internal/sweeper"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			mw := io.MultiWriter(os.Stdout, f)
			log.SetOutput(mw)
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	// Product cache is optional; the catalog reads straight from SQLite without it.
	var productCache services.Cache
	var redisCache *cache.Cache
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		client, err := cache.Dial(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Printf("[warn] product cache disabled: %v", err)
		} else {
			redisCache = cache.New(client, "posuda:", cfg.CacheTTL)
			productCache = redisCache
			log.Printf("[cache] redis %s ttl=%s", cfg.RedisAddr, cfg.CacheTTL)
		}
	}

	deps := handlers.NewDeps(db, cfg, clock.System, productCache)

	sw := sweeper.New(deps.Orders, clock.System, sweeper.Config{
		Schedule:   cfg.SweepSchedule,
		ReadyTTL:   cfg.ReadyTTL,
		RunOnStart: cfg.SweepOnStart,
	})
	if err := sw.Start(); err != nil {
		log.Fatal(err)
	}
	deps.AdminHandler.Sweeper = sw

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
	})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(handlers.LoadUser(deps.Auth))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/healthz")
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"message": "rate limit exceeded, retry soon"})
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-CSRF-Token",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   cfg.CookieSecure,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"err": err.Error()})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Security check failed. Please refresh and try again."})
		},
	}))

	// ---------- API ----------
	api := app.Group("/api/v1")
	api.Use("/availability", limiter.New(limiter.Config{
		Max:        15,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"message": "rate limit exceeded, retry soon"})
		},
	}))
	// Login throttled
	api.Use("/auth/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|login"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"message": "Too many attempts. Please try again later."})
		},
	}))
	handlers.Register(api, deps)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Not found"})
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal(err)
		}
	}()
	log.Printf("[http] listening on :%s", cfg.Port)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return app.ShutdownWithContext(ctx)
			},
			"sweeper": func(ctx context.Context) error {
				return sw.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Printf("[warn] closing redis: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		log.Printf("[warn] closing db: %v", err)
	}
	log.Printf("exited with code: %d", exitCode)
	os.Exit(exitCode)
}
