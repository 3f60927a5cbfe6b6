package routes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/manager"
	"github.com/any-hub/any-cache/internal/server"
)

const statsTimeout = 5 * time.Second

// RegisterSourceRoutes 暴露 /-/sources 诊断与运维接口：查看各源缓存状态、推迟下载、清理缓存。
func RegisterSourceRoutes(app *fiber.App, registry *server.SourceRegistry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/sources", func(c fiber.Ctx) error {
		routes := registry.List()
		payload := make([]sourcePayload, 0, len(routes))
		for _, route := range routes {
			item, err := encodeSource(c.Context(), route)
			if err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stats_unavailable"})
			}
			payload = append(payload, item)
		}
		return c.JSON(fiber.Map{"sources": payload})
	})

	app.Get("/-/sources/:name", withRoute(registry, func(c fiber.Ctx, route *server.SourceRoute) error {
		item, err := encodeSource(c.Context(), route)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stats_unavailable"})
		}
		return c.JSON(item)
	}))

	app.Post("/-/sources/:name/defer", withRoute(registry, func(c fiber.Ctx, route *server.SourceRoute) error {
		route.Manager.DeferCurrentDownloads()
		logAdmin(logger, route, "defer_downloads", nil)
		return c.SendStatus(fiber.StatusNoContent)
	}))

	app.Delete("/-/sources/:name/memory", withRoute(registry, func(c fiber.Ctx, route *server.SourceRoute) error {
		route.Manager.ClearMemoryCache()
		logAdmin(logger, route, "clear_memory", nil)
		return c.SendStatus(fiber.StatusNoContent)
	}))

	app.Delete("/-/sources/:name/disk", withRoute(registry, func(c fiber.Ctx, route *server.SourceRoute) error {
		err := route.Manager.ClearDiskCache()
		logAdmin(logger, route, "clear_disk", err)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}))

	app.Delete("/-/sources/:name/resources", withRoute(registry, func(c fiber.Ctx, route *server.SourceRoute) error {
		raw := strings.TrimSpace(c.Query("id"))
		if raw == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id_required"})
		}
		path, query, _ := strings.Cut(raw, "?")
		identifier, err := route.Identify(path, query)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_identifier"})
		}
		err = route.Manager.ClearCachedResource(identifier)
		logAdmin(logger, route, "clear_resource", err)
		if err != nil {
			var verr *manager.ValidationError
			if errors.As(err, &verr) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_identifier"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}))
}

type sourcePayload struct {
	Name        string        `json:"name"`
	Domain      string        `json:"domain"`
	Type        string        `json:"type"`
	Port        int           `json:"port"`
	AuthMode    string        `json:"auth_mode"`
	StoragePath string        `json:"storage_path"`
	Stats       manager.Stats `json:"stats"`
}

func encodeSource(ctx context.Context, route *server.SourceRoute) (sourcePayload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	stats, err := route.Manager.Stats(ctx)
	if err != nil {
		return sourcePayload{}, err
	}
	return sourcePayload{
		Name:        route.Config.Name,
		Domain:      route.Config.Domain,
		Type:        route.Config.Type,
		Port:        route.ListenPort,
		AuthMode:    route.Config.AuthMode(),
		StoragePath: route.StoragePath,
		Stats:       stats,
	}, nil
}

func withRoute(registry *server.SourceRegistry, next server.SourceHandlerFunc) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source_name_required"})
		}
		route, ok := registry.Route(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "source_not_found"})
		}
		return next(c, route)
	}
}

func logAdmin(logger *logrus.Logger, route *server.SourceRoute, action string, err error) {
	entry := logger.WithFields(logrus.Fields{
		"action": action,
		"source": route.Config.Name,
		"domain": route.Config.Domain,
	})
	if err != nil {
		entry.WithError(err).Warn("admin_failed")
		return
	}
	entry.Info("admin_complete")
}
