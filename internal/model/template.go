package model

import (
	"strings"
	"time"
)

// Template is a stored, parameterized email body.
type Template struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTML      string    `json:"html" db:"html"`
	Defaults  JSONMap   `json:"defaults" db:"defaults"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TemplateSummary is the list projection.
type TemplateSummary struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TemplateInput carries create fields. Empty ID means generate one.
type TemplateInput struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Subject  string  `json:"subject"`
	HTML     string  `json:"html"`
	Defaults JSONMap `json:"defaults"`
}

// TemplatePatch carries update fields. Nil means leave unchanged.
type TemplatePatch struct {
	Name     *string  `json:"name"`
	Subject  *string  `json:"subject"`
	HTML     *string  `json:"html"`
	Defaults *JSONMap `json:"defaults"`
}

func (p TemplatePatch) IsEmpty() bool {
	return p.Name == nil && p.Subject == nil && p.HTML == nil && p.Defaults == nil
}

// Apply merges the supplied fields into t.
func (p TemplatePatch) Apply(t *Template) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.HTML != nil {
		t.HTML = *p.HTML
	}
	if p.Defaults != nil {
		t.Defaults = *p.Defaults
		if t.Defaults == nil {
			t.Defaults = JSONMap{}
		}
	}
}

// RenderedTemplate is a template with placeholders substituted.
type RenderedTemplate struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Subject  string  `json:"subject"`
	HTML     string  `json:"html"`
	Defaults JSONMap `json:"defaults"`
}

// NormalizeTemplateID keeps ASCII letters, digits, '_' and '-' and
// lowercases the result. It is idempotent.
func NormalizeTemplateID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}
