package handlers

import (
	"net/http"

	"broadcast-engine/internal/reconcile"

	"github.com/gin-gonic/gin"
)

type TrackingHandler struct {
	clicks *reconcile.ClickTracker
}

func NewTrackingHandler(clicks *reconcile.ClickTracker) *TrackingHandler {
	return &TrackingHandler{clicks: clicks}
}

// Redirect records a button click and redirects to the button's target.
func (h *TrackingHandler) Redirect(c *gin.Context) {
	target := h.clicks.Click(c.Request.Context(), c.Param("token"), reconcile.ParseIndex(c.Param("index")))
	c.Redirect(http.StatusFound, target)
}
