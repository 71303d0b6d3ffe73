package handlers

import (
	"net/http"

	"broadcast-engine/internal/campaign"
	"broadcast-engine/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CampaignHandler struct {
	service    *campaign.Service
	dispatcher *campaign.Dispatcher
	messages   storage.MessageStore
	logger     *zap.Logger
}

func NewCampaignHandler(service *campaign.Service, dispatcher *campaign.Dispatcher, messages storage.MessageStore, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		service:    service,
		dispatcher: dispatcher,
		messages:   messages,
		logger:     logger,
	}
}

func (h *CampaignHandler) Create(c *gin.Context) {
	var in campaign.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	created, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	found, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *CampaignHandler) Update(c *gin.Context) {
	var in campaign.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *CampaignHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Launch starts dispatch and returns as soon as the messages exist.
func (h *CampaignHandler) Launch(c *gin.Context) {
	res, err := h.dispatcher.Launch(c.Request.Context(), c.Param("id"), campaign.TriggerManual)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *CampaignHandler) Cancel(c *gin.Context) {
	paused, err := h.dispatcher.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paused)
}

func (h *CampaignHandler) Messages(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.service.Get(ctx, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	msgs, err := h.messages.ListByCampaign(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}
