package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mx-liquidity/internal/service"
	"mx-liquidity/internal/storage"
)

// PoolReader is the read side of the refresh service.
type PoolReader interface {
	ListPools(ctx context.Context) ([]service.PoolView, error)
	GetPoolDetail(ctx context.Context, address string, limit int) (service.PoolDetail, error)
}

// PoolDetailRequest binds GET /api/pool/:address.
type PoolDetailRequest struct {
	Address string `param:"address" validate:"required,max=128"`
	Limit   int    `query:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type errorBody struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

var validate = validator.New()

// Handler serves the pool read API.
type Handler struct {
	pools  PoolReader
	logger zerolog.Logger
}

// NewHandler builds the pool API handler.
func NewHandler(pools PoolReader, logger zerolog.Logger) *Handler {
	return &Handler{pools: pools, logger: logger}
}

// RegisterRoutes mounts the API on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/pools", h.ListPools)
	g.GET("/pool/:address", h.PoolDetail)
	e.GET("/healthz", h.Health)
}

// ListPools returns every pool ordered by TVL descending.
func (h *Handler) ListPools(c echo.Context) error {
	pools, err := h.pools.ListPools(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list pools failed")
		return internalError(c)
	}
	return c.JSON(http.StatusOK, pools)
}

// PoolDetail returns one pool with history, scenarios and trends.
func (h *Handler) PoolDetail(c echo.Context) error {
	req := &PoolDetailRequest{}
	if verrs := readAndValidate(c, req); verrs != nil {
		return c.JSON(http.StatusBadRequest, errorBody{
			Status:  http.StatusBadRequest,
			Message: http.StatusText(http.StatusBadRequest),
			Errors:  verrs,
		})
	}

	detail, err := h.pools.GetPoolDetail(c.Request().Context(), req.Address, req.Limit)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("pool %s not found", req.Address),
		})
	}
	if err != nil {
		h.logger.Error().Err(err).Str("pool", req.Address).Msg("pool detail failed")
		return internalError(c)
	}
	return c.JSON(http.StatusOK, detail)
}

// Health is a liveness probe.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, errorBody{
		Status:  http.StatusInternalServerError,
		Message: http.StatusText(http.StatusInternalServerError),
	})
}

// readAndValidate binds path and query parameters, fills defaults, then validates.
func readAndValidate(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "max":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
