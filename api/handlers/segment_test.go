package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"broadcast-engine/internal/models"
	"broadcast-engine/internal/segment"
	"broadcast-engine/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func segmentRouter(t *testing.T) (*gin.Engine, *segment.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stores := storage.NewMemory().Stores()
	for _, c := range []*models.Contact{
		{ID: "a", Phone: "+2411", City: "Libreville", Status: models.ContactActive, OptIn: true},
		{ID: "b", Phone: "+2412", City: "Libreville", Status: models.ContactActive, OptIn: true},
		{ID: "c", Phone: "+2413", City: "Oyem", Status: models.ContactActive, OptIn: true},
	} {
		require.NoError(t, stores.Contacts.Upsert(context.Background(), c))
	}

	registry := segment.NewRegistry(stores, zap.NewNop())
	h := NewSegmentHandler(registry, zap.NewNop())
	router := gin.New()
	router.POST("/segments/:id/static", h.ConvertToStatic)
	router.POST("/segments/:id/contacts", h.AddContacts)
	return router, registry
}

func TestConvertToStatic(t *testing.T) {
	router, registry := segmentRouter(t)
	seg, err := registry.Create(context.Background(), segment.Input{
		Name:     "Libreville",
		Criteria: models.CriteriaTree{Rules: []models.CriteriaRule{{Field: "city", Op: "eq", Value: "Libreville"}}},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/segments/"+seg.ID+"/static", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Segment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.SegmentStatic, got.Type)
	assert.Equal(t, int64(2), got.ContactCount)
	assert.Equal(t, segment.StaticCriteria(seg), got.Criteria)

	body, _ := json.Marshal(gin.H{"phones": []string{"+2413"}})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/segments/"+seg.ID+"/contacts", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.ContactCount)
}

func TestConvertToStaticUnknownSegment(t *testing.T) {
	router, _ := segmentRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/segments/missing/static", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
