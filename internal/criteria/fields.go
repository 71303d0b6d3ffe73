package criteria

import (
	"sort"
	"time"

	"broadcast-engine/internal/models"
)

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
	kindTime
	kindList
)

// field describes one targetable contact attribute. nullable numbers are
// stored with omitempty, so their zero value reads as null.
type field struct {
	Name     string
	Path     string
	Kind     kind
	Nullable bool
}

var allowedFields = map[string]field{
	"phone":           {Name: "phone", Path: "phone", Kind: kindString},
	"email":           {Name: "email", Path: "email", Kind: kindString},
	"name":            {Name: "name", Path: "name", Kind: kindString},
	"category":        {Name: "category", Path: "category", Kind: kindString},
	"tags":            {Name: "tags", Path: "tags", Kind: kindList},
	"city":            {Name: "city", Path: "city", Kind: kindString},
	"region":          {Name: "region", Path: "region", Kind: kindString},
	"country":         {Name: "country", Path: "country", Kind: kindString},
	"gender":          {Name: "gender", Path: "gender", Kind: kindString},
	"age":             {Name: "age", Path: "age", Kind: kindNumber, Nullable: true},
	"accountType":     {Name: "accountType", Path: "accountType", Kind: kindString},
	"language":        {Name: "language", Path: "language", Kind: kindString},
	"engagementScore": {Name: "engagementScore", Path: "engagementScore", Kind: kindNumber},
	"optIn":           {Name: "optIn", Path: "optIn", Kind: kindBool},
	"optInAt":         {Name: "optInAt", Path: "optInAt", Kind: kindTime},
	"status":          {Name: "status", Path: "status", Kind: kindString},
	"createdAt":       {Name: "createdAt", Path: "createdAt", Kind: kindTime},
	"lastMessageAt":   {Name: "lastMessageAt", Path: "lastMessageAt", Kind: kindTime},
}

// AllowedFields returns the sorted list of targetable field names.
func AllowedFields() []string {
	names := make([]string, 0, len(allowedFields))
	for name := range allowedFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fieldValue reads a field off a contact in its compiled representation:
// string, float64, bool, time.Time or []string.
func fieldValue(c *models.Contact, name string) any {
	switch name {
	case "phone":
		return c.Phone
	case "email":
		return c.Email
	case "name":
		return c.Name
	case "category":
		return string(c.Category)
	case "tags":
		return c.Tags
	case "city":
		return c.City
	case "region":
		return c.Region
	case "country":
		return c.Country
	case "gender":
		return c.Gender
	case "age":
		return float64(c.Age)
	case "accountType":
		return c.AccountType
	case "language":
		return c.Language
	case "engagementScore":
		return float64(c.EngagementScore)
	case "optIn":
		return c.OptIn
	case "optInAt":
		return derefTime(c.OptInAt)
	case "status":
		return string(c.Status)
	case "createdAt":
		return c.CreatedAt
	case "lastMessageAt":
		return derefTime(c.LastMessageAt)
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// isNull mirrors how the document store sees a missing attribute.
func (f field) isNull(v any) bool {
	switch f.Kind {
	case kindString:
		s, _ := v.(string)
		return s == ""
	case kindNumber:
		n, _ := v.(float64)
		return f.Nullable && n == 0
	case kindTime:
		t, _ := v.(time.Time)
		return t.IsZero()
	case kindList:
		l, _ := v.([]string)
		return len(l) == 0
	}
	return false
}
