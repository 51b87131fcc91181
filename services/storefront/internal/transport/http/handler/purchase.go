package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/pkg/utils"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/sakashimaa/media-store/services/storefront/internal/service"
	"go.uber.org/zap"
)

type ProductLister interface {
	List() []*domain.Product
}

type PurchaseHandler struct {
	service  service.PurchaseService
	catalog  ProductLister
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewPurchaseHandler(
	svc service.PurchaseService,
	catalog ProductLister,
	timeout time.Duration,
	logger *zap.Logger,
) *PurchaseHandler {
	return &PurchaseHandler{
		service:  svc,
		catalog:  catalog,
		validate: validator.New(),
		timeout:  timeout,
		logger:   logger,
	}
}

// PurchaseInput carries no price; the catalog price is the only one used.
type PurchaseInput struct {
	Product string `json:"product" validate:"required,max=128"`
	Email   string `json:"email" validate:"required,max=254"`
}

type productView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (h *PurchaseHandler) ListProducts(c *fiber.Ctx) error {
	products := h.catalog.List()

	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{
			ID:       p.ID,
			Name:     p.Name,
			Amount:   p.Price.Decimal(),
			Currency: p.Price.Currency,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"products": out,
	})
}

func (h *PurchaseHandler) Start(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input, inErr := h.parse(ctx, c)
	if inErr != nil {
		return writeInputError(c, inErr)
	}

	started, err := h.service.StartPurchase(ctx, input.Product, input.Email)
	if err != nil {
		return h.fail(ctx, c, "start purchase failed", err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"purchase started",
		zap.String("remote_order_id", started.RemoteOrderID),
		zap.String("product_id", started.Product.ID),
	)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id": started.RemoteOrderID,
		"product":  started.Product.ID,
		"amount":   started.Product.Price.Decimal(),
		"currency": started.Product.Price.Currency,
	})
}

func (h *PurchaseHandler) Complete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	orderID := c.Params("orderID")

	input, inErr := h.parse(ctx, c)
	if inErr != nil {
		return writeInputError(c, inErr)
	}

	completed, err := h.service.CompletePurchase(ctx, orderID, input.Product, input.Email)
	if err != nil {
		return h.fail(ctx, c, "complete purchase failed", err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"purchase completed",
		zap.String("remote_order_id", completed.RemoteOrderID),
		zap.String("product_id", completed.ProductID),
	)

	c.Set(fiber.HeaderCacheControl, "no-store")

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"download_url": completed.RedemptionURL,
		"expires_at":   completed.ExpiresAt.UTC(),
	})
}

func (h *PurchaseHandler) parse(ctx context.Context, c *fiber.Ctx) (*PurchaseInput, *inputError) {
	input := new(PurchaseInput)

	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))
		return nil, &inputError{msg: "invalid request body"}
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(ctx, h.logger, "validation failed", zap.Error(err))
		return nil, &inputError{msg: "validation failed", details: utils.FormatValidationError(err)}
	}

	return input, nil
}

// fail logs the error unless the client caused it, then writes the response.
func (h *PurchaseHandler) fail(ctx context.Context, c *fiber.Ctx, msg string, err error) error {
	if !service.IsValidation(err) {
		mylogger.Warn(ctx, h.logger, msg, zap.Error(err))
	}

	return writeError(c, err)
}
