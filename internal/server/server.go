// Package server exposes the liveness probe and the JSON API the
// browser dashboard talks to. All real rules live in the gateway; this
// layer only decodes requests and maps error kinds to status codes.
package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/internal/gateway"
	"github.com/Jedidiah5/past-time/internal/journal"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

// Gateway is the slice of the creation/deletion gateway used by handlers.
type Gateway interface {
	Create(ctx context.Context, p gateway.CreateParams) (capsule.Capsule, error)
	List(ctx context.Context) ([]capsule.Capsule, error)
	Remove(ctx context.Context, id string) error
}

// Deliveries reads recent delivery attempts. A nil *journal.Journal
// satisfies it with empty history.
type Deliveries interface {
	Recent(ctx context.Context, limit int) ([]journal.Attempt, error)
}

func New(gw Gateway, deliveries Deliveries, log logx.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	if log.IsZero() {
		log = logx.Nop()
	}
	e.Use(errorLogger(log))

	e.GET("/", liveness)
	e.POST("/api/capsules", createCapsule(gw))
	e.GET("/api/capsules", listCapsules(gw))
	e.DELETE("/api/capsules/:id", removeCapsule(gw))
	e.GET("/api/deliveries", listDeliveries(deliveries))

	return e
}

// errorLogger logs handler failures; success noise stays out of the logs.
func errorLogger(log logx.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err != nil {
				log.Warn("request failed",
					logx.String("method", c.Request().Method),
					logx.String("path", c.Request().URL.Path),
					logx.Err(err))
			}
			return err
		}
	}
}

// liveness is the external health signal; nothing scheduling-related
// hangs off it.
func liveness(c echo.Context) error {
	return c.String(http.StatusOK, "PastTime backend is running. The delivery schedule is active.")
}

func createCapsule(gw Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p gateway.CreateParams
		if err := c.Bind(&p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
		}
		cp, err := gw.Create(c.Request().Context(), p)
		if err != nil {
			return kindError(err)
		}
		return c.JSON(http.StatusCreated, cp)
	}
}

func listCapsules(gw Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := gw.List(c.Request().Context())
		if err != nil {
			return kindError(err)
		}
		if list == nil {
			list = []capsule.Capsule{}
		}
		return c.JSON(http.StatusOK, list)
	}
}

func removeCapsule(gw Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := gw.Remove(c.Request().Context(), c.Param("id")); err != nil {
			return kindError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listDeliveries(deliveries Deliveries) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		_ = echo.QueryParamsBinder(c).Int("limit", &limit).BindError()
		list, err := deliveries.Recent(c.Request().Context(), limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if list == nil {
			list = []journal.Attempt{}
		}
		return c.JSON(http.StatusOK, list)
	}
}

// kindError maps the error taxonomy onto HTTP statuses. The Conflict
// message is the user-facing "cannot delete, already delivered".
func kindError(err error) error {
	switch capsule.KindOf(err) {
	case capsule.KindValidation:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case capsule.KindConflict:
		return echo.NewHTTPError(http.StatusConflict, "cannot delete, already delivered")
	case capsule.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "capsule not found")
	case capsule.KindStoreUnavailable:
		return echo.NewHTTPError(http.StatusBadGateway, "record store unavailable")
	default:
		return err
	}
}
