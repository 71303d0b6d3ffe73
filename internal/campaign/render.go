package campaign

import (
	"regexp"
	"strings"

	"broadcast-engine/internal/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

const contactPrefix = "contact."

// Render substitutes the campaign's variable bindings into the template body
// for one contact. It returns the rendered body and the body parameters in
// the order the template declares its variables.
func Render(t *models.Template, vars map[string]string, c *models.Contact) (string, []string) {
	values := make(map[string]string, len(vars))
	for name, binding := range vars {
		values[name] = resolve(binding, c)
	}

	params := make([]string, 0, len(t.Variables))
	for _, name := range t.Variables {
		v, ok := values[name]
		if !ok {
			v = resolve(contactPrefix+name, c)
			values[name] = v
		}
		params = append(params, v)
	}

	return substitute(t.Body, values), params
}

// RenderHeader renders a text header. Contact bindings resolve to their
// defaults since the header is shared by every recipient.
func RenderHeader(t *models.Template, vars map[string]string) string {
	if t.Header.Type != models.HeaderText {
		return ""
	}
	values := make(map[string]string, len(vars))
	for name, binding := range vars {
		values[name] = resolve(binding, nil)
	}
	return substitute(t.Header.Text, values)
}

func substitute(text string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// resolve evaluates one binding: either a literal, or contact.<field> with an
// optional |default.
func resolve(binding string, c *models.Contact) string {
	if !strings.HasPrefix(binding, contactPrefix) {
		return binding
	}
	field, def, _ := strings.Cut(strings.TrimPrefix(binding, contactPrefix), "|")
	if c == nil {
		return def
	}
	if v := contactField(c, strings.TrimSpace(field)); v != "" {
		return v
	}
	return def
}

func contactField(c *models.Contact, field string) string {
	switch field {
	case "name":
		return c.Name
	case "phone":
		return c.Phone
	case "email":
		return c.Email
	case "city":
		return c.City
	case "region":
		return c.Region
	case "country":
		return c.Country
	case "category":
		return string(c.Category)
	case "accountType":
		return c.AccountType
	case "language":
		return c.Language
	}
	return ""
}
