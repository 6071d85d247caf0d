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

// RecommendationHandler handles HTTP requests for recommendations. It exposes
// the two manual transitions: re-queueing a failed recommendation and
// cancelling a pending one.
type RecommendationHandler struct {
	recommendationRepo repository.RecommendationRepository
	logger             *logger.Logger
}

// NewRecommendationHandler creates a new RecommendationHandler.
func NewRecommendationHandler(recommendationRepo repository.RecommendationRepository, logger *logger.Logger) *RecommendationHandler {
	return &RecommendationHandler{recommendationRepo: recommendationRepo, logger: logger}
}

// RegisterRoutes registers the recommendation routes to the Echo group.
func (h *RecommendationHandler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecommendations)
	g.POST("/:id/requeue", h.RequeueRecommendation)
	g.POST("/:id/cancel", h.CancelRecommendation)
}

// GetRecommendations lists recommendations filtered by status.
func (h *RecommendationHandler) GetRecommendations(c echo.Context) error {
	param := dto.GetRecommendationsParam{Limit: 100}
	for _, status := range c.QueryParams()["status"] {
		param.Statuses = append(param.Statuses, entity.RecommendationStatus(status))
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid limit"})
		}
		param.Limit = limit
	}

	recommendations, err := h.recommendationRepo.Get(c.Request().Context(), param)
	if err != nil {
		h.logger.Error("Failed to get recommendations", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to get recommendations"})
	}
	return c.JSON(http.StatusOK, recommendations)
}

// RequeueRecommendation moves a FAILED recommendation back to PENDING so the
// next dispatch cycle picks it up again.
func (h *RecommendationHandler) RequeueRecommendation(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid recommendation ID"})
	}

	if err := h.recommendationRepo.Requeue(c.Request().Context(), uint(id)); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelRecommendation moves a PENDING recommendation to CANCELLED. A claimed
// recommendation cannot be cancelled.
func (h *RecommendationHandler) CancelRecommendation(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid recommendation ID"})
	}

	if err := h.recommendationRepo.Cancel(c.Request().Context(), uint(id)); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
