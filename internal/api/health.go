package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fluxstack/fluxlive/internal/httputil"
)

// HealthHandler serves the health check endpoint. Either backend may be nil
// when the server runs in memory-only development mode.
type HealthHandler struct {
	DB     *pgxpool.Pool
	Valkey *redis.Client
}

// Health pings PostgreSQL and Valkey, returning component status.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	pgStatus := "ok"
	if h.DB == nil {
		pgStatus = "disabled"
	} else if err := h.DB.Ping(ctx); err != nil {
		pgStatus = "unavailable"
	}

	vkStatus := "ok"
	if h.Valkey == nil {
		vkStatus = "disabled"
	} else if err := h.Valkey.Ping(ctx).Err(); err != nil {
		vkStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if pgStatus == "unavailable" || vkStatus == "unavailable" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":   overall,
		"postgres": pgStatus,
		"valkey":   vkStatus,
	})
}
