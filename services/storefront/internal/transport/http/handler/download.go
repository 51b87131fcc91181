package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/services/storefront/internal/service"
	"go.uber.org/zap"
)

type DownloadHandler struct {
	service service.RedemptionService
	timeout time.Duration
	logger  *zap.Logger
}

func NewDownloadHandler(svc service.RedemptionService, timeout time.Duration, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		service: svc,
		timeout: timeout,
		logger:  logger,
	}
}

// Download redirects a valid token to the purchased content. The token is
// the only credential consulted.
func (h *DownloadHandler) Download(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("Referrer-Policy", "no-referrer")

	pointer, err := h.service.Redeem(ctx, c.Query("token"))
	if err != nil {
		var denied *service.DeniedError
		if !errors.As(err, &denied) {
			mylogger.Error(ctx, h.logger, "redemption failed", zap.Error(err))
		}

		return writeError(c, err)
	}

	return c.Redirect(pointer.ContentRef, fiber.StatusFound)
}
