package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/testgen/internal/config"
	"github.com/ehr/testgen/internal/domain/testgen"
	"github.com/ehr/testgen/internal/platform/auth"
	"github.com/ehr/testgen/internal/platform/hl7v2"
	"github.com/ehr/testgen/internal/platform/middleware"
)

const generatePath = "/api/v1/generate"

// newServer wires the HTTP surface around svc. It does not start listening.
func newServer(cfg *config.Config, svc *testgen.Service, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit, generatePath))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	var generateMW []echo.MiddlewareFunc
	if cfg.AuthEnabled() {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			Skipper:    auth.AuthSkipper,
		}))
		generateMW = append(generateMW, auth.RequireScope(auth.ScopeGenerate))
	}
	generateMW = append(generateMW, middleware.RateLimit(rateLimitCfg))

	testgen.NewHandler(svc).RegisterRoutes(apiV1, generateMW...)
	hl7v2.NewHandler().RegisterRoutes(apiV1)

	return e
}
