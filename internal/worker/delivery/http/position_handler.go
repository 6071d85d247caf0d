package http

import (
	"net/http"
	"strconv"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PositionHandler handles read-only HTTP requests for positions, fills, and
// dispatcher runs.
type PositionHandler struct {
	positionRepo repository.PositionRepository
	runRepo      repository.DispatcherRunRepository
	logger       *logger.Logger
}

// NewPositionHandler creates a new PositionHandler.
func NewPositionHandler(positionRepo repository.PositionRepository, runRepo repository.DispatcherRunRepository, logger *logger.Logger) *PositionHandler {
	return &PositionHandler{positionRepo: positionRepo, runRepo: runRepo, logger: logger}
}

// RegisterRoutes registers the position routes to the Echo group.
func (h *PositionHandler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetPositions)
	g.GET("/:id/fills", h.GetPositionFills)
}

// RegisterRunRoutes registers the dispatcher run routes to the Echo group.
func (h *PositionHandler) RegisterRunRoutes(g *echo.Group) {
	g.GET("", h.GetDispatcherRuns)
}

// GetPositions lists positions filtered by status or ticker.
func (h *PositionHandler) GetPositions(c echo.Context) error {
	param := dto.GetPositionsParam{Limit: 100}
	for _, status := range c.QueryParams()["status"] {
		param.Statuses = append(param.Statuses, entity.PositionStatus(status))
	}
	if tickers := c.QueryParams()["ticker"]; len(tickers) > 0 {
		param.Tickers = tickers
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid limit"})
		}
		param.Limit = limit
	}

	positions, err := h.positionRepo.Get(c.Request().Context(), param)
	if err != nil {
		h.logger.Error("Failed to get positions", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get positions"})
	}
	return c.JSON(http.StatusOK, positions)
}

// GetPositionFills lists the fill log of one position.
func (h *PositionHandler) GetPositionFills(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid position ID"})
	}

	fills, err := h.positionRepo.GetFills(c.Request().Context(), uint(id))
	if err != nil {
		h.logger.Error("Failed to get position fills", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get position fills"})
	}
	return c.JSON(http.StatusOK, fills)
}

// GetDispatcherRuns lists the most recent dispatcher runs with their
// summaries, newest first.
func (h *PositionHandler) GetDispatcherRuns(c echo.Context) error {
	limit := 20
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid limit"})
		}
		limit = parsed
	}

	runs, err := h.runRepo.GetLatest(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get dispatcher runs", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get dispatcher runs"})
	}
	return c.JSON(http.StatusOK, runs)
}
