package db

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type Health struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Migration int    `json:"migration"`
	InUse     int32  `json:"conns_in_use"`
	Idle      int32  `json:"conns_idle"`
	MaxConns  int32  `json:"conns_max"`
}

// SchemaVersion returns the highest applied migration, 0 when none ran.
func SchemaVersion(ctx context.Context, q Querier) (int, error) {
	var v int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM _migrations`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// HealthHandler reports the database as unhealthy when it cannot be reached
// or no migration has been applied yet.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stat := pool.Stat()
		h := Health{
			Status:   "healthy",
			InUse:    stat.AcquiredConns(),
			Idle:     stat.IdleConns(),
			MaxConns: stat.MaxConns(),
		}

		v, err := SchemaVersion(ctx, pool)
		switch {
		case err != nil:
			h.Status, h.Error = "unhealthy", err.Error()
		case v == 0:
			h.Status, h.Error = "unhealthy", "schema not migrated"
		}
		h.Migration = v

		if h.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
