package handlers

import (
	"encoding/json"
	"net/http"

	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/segment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SegmentHandler struct {
	registry *segment.Registry
	logger   *zap.Logger
}

func NewSegmentHandler(registry *segment.Registry, logger *zap.Logger) *SegmentHandler {
	return &SegmentHandler{registry: registry, logger: logger}
}

type previewRequest struct {
	Criteria   json.RawMessage `json:"criteria" binding:"required"`
	SampleSize int             `json:"sampleSize"`
}

type phonesRequest struct {
	Phones []string `json:"phones" binding:"required,min=1"`
}

func (h *SegmentHandler) Create(c *gin.Context) {
	var in segment.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	created, err := h.registry.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *SegmentHandler) List(c *gin.Context) {
	segments, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

func (h *SegmentHandler) Get(c *gin.Context) {
	found, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *SegmentHandler) Update(c *gin.Context) {
	var in segment.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	updated, err := h.registry.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *SegmentHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Evaluate recounts a stored segment.
func (h *SegmentHandler) Evaluate(c *gin.Context) {
	evaluated, err := h.registry.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, evaluated)
}

// Preview counts and samples an unsaved criteria tree.
func (h *SegmentHandler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	tree, err := criteria.ParseTree(req.Criteria)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	preview, err := h.registry.Preview(c.Request.Context(), tree, req.SampleSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Insights breaks an unsaved criteria tree's audience down by attribute.
func (h *SegmentHandler) Insights(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	tree, err := criteria.ParseTree(req.Criteria)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	insights, err := h.registry.Insights(c.Request.Context(), tree)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}

// ConvertToStatic pins the current members of a dynamic segment.
func (h *SegmentHandler) ConvertToStatic(c *gin.Context) {
	converted, err := h.registry.ConvertToStatic(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, converted)
}

// AddContacts pins contacts into the segment, converting it to static.
func (h *SegmentHandler) AddContacts(c *gin.Context) {
	var req phonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phones are required"})
		return
	}
	updated, err := h.registry.AddContacts(c.Request.Context(), c.Param("id"), req.Phones)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *SegmentHandler) RemoveContacts(c *gin.Context) {
	var req phonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phones are required"})
		return
	}
	updated, err := h.registry.RemoveContacts(c.Request.Context(), c.Param("id"), req.Phones)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
