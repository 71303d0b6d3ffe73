package campaign

import (
	"testing"

	"broadcast-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tmpl := &models.Template{
		Body:      "Hello {{name}}, enjoy {{ discount }} in {{city}}! {{unknown}}",
		Variables: []string{"name", "discount"},
	}
	vars := map[string]string{
		"name":     "contact.name|Client",
		"discount": "20%",
		"city":     "contact.city",
	}

	body, params := Render(tmpl, vars, &models.Contact{Name: "Ana", City: "Oyem"})
	assert.Equal(t, "Hello Ana, enjoy 20% in Oyem! {{unknown}}", body)
	assert.Equal(t, []string{"Ana", "20%"}, params)

	body, params = Render(tmpl, vars, &models.Contact{})
	assert.Equal(t, "Hello Client, enjoy 20% in ! {{unknown}}", body)
	assert.Equal(t, []string{"Client", "20%"}, params)
}

func TestRenderFallsBackToContactField(t *testing.T) {
	tmpl := &models.Template{Body: "Hi {{name}}", Variables: []string{"name"}}
	body, params := Render(tmpl, nil, &models.Contact{Name: "Jo"})
	assert.Equal(t, "Hi Jo", body)
	assert.Equal(t, []string{"Jo"}, params)
}

func TestRenderHeader(t *testing.T) {
	tmpl := &models.Template{Header: models.TemplateHeader{Type: models.HeaderText, Text: "{{brand}} sale for {{who}}"}}
	got := RenderHeader(tmpl, map[string]string{"brand": "Acme", "who": "contact.name|you"})
	assert.Equal(t, "Acme sale for you", got)
}
