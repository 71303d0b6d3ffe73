package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"broadcast-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(url string, timeout time.Duration) *WhatsApp {
	return NewWhatsApp(Config{
		BaseURL:       url,
		Version:       "v19.0",
		PhoneNumberID: "12345",
		AccessToken:   "secret",
		Timeout:       timeout,
	}, zap.NewNop())
}

func TestSendTemplate(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	id, err := c.SendTemplate(context.Background(), "+24100000", "promo", "fr", []Component{
		{Type: "body", Parameters: []Parameter{{Type: "text", Text: "Ana"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "promo", got.Template.Name)
	assert.Equal(t, "fr", got.Template.Language.Code)
	assert.Equal(t, "Ana", got.Template.Components[0].Parameters[0].Text)
}

func TestSendTemplateStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":131026,"message":"Message undeliverable","error_data":{"details":"not a WhatsApp user"}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).SendTemplate(context.Background(), "+1", "promo", "en", nil)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "131026", gwErr.Code)
	assert.Equal(t, "Message undeliverable", gwErr.Message)
	assert.Equal(t, "not a WhatsApp user", gwErr.Details)
}

func TestSendTemplateUnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).SendTemplate(context.Background(), "+1", "promo", "en", nil)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "http_502", gwErr.Code)
	assert.Equal(t, "upstream down", gwErr.Details)
}

func TestSendTemplateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(srv.URL, 50*time.Millisecond).SendTemplate(context.Background(), "+1", "promo", "en", nil)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, CodeTimeout, gwErr.Code)
}

func TestUploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whatsapp", r.FormValue("messaging_product"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "png-bytes", string(data))
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		w.Write([]byte(`{"id":"media-1"}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL, time.Second).UploadMedia(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "media-1", id)
}

func TestComponents(t *testing.T) {
	tmpl := &models.Template{
		Header: models.TemplateHeader{Type: models.HeaderImage},
		Buttons: []models.TemplateButton{
			{Type: models.ButtonQuickReply, Text: "Stop"},
			{Type: models.ButtonURL, Text: "Shop", TargetURL: "https://shop.example"},
		},
	}

	got := Components(tmpl, []string{"Ana", "20%"}, "", "media-1", "tok")
	require.Len(t, got, 3)
	assert.Equal(t, "header", got[0].Type)
	assert.Equal(t, "media-1", got[0].Parameters[0].Image.ID)
	assert.Equal(t, "body", got[1].Type)
	assert.Len(t, got[1].Parameters, 2)
	assert.Equal(t, Component{
		Type:       "button",
		SubType:    "url",
		Index:      "1",
		Parameters: []Parameter{{Type: "text", Text: "tok/1"}},
	}, got[2])
}
