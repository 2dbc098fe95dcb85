package domain

import "strings"

// Category is the closed set of labels the classifier can produce. Every
// inbound message resolves to exactly one of these; anything the classifier
// cannot place lands on CategoryEscalation.
type Category string

const (
	CategorySales      Category = "SALES"
	CategorySupport    Category = "SUPPORT"
	CategoryTechnical  Category = "TECHNICAL"
	CategoryEscalation Category = "ESCALATION"
)

// categoryAliases maps the legacy Spanish labels still emitted by older
// prompt versions onto the canonical set.
var categoryAliases = map[string]Category{
	"VENTAS":       CategorySales,
	"SOPORTE":      CategorySupport,
	"TECNICO":      CategoryTechnical,
	"ESCALAMIENTO": CategoryEscalation,
}

// ParseCategory normalizes a raw label and reports whether it belongs to the
// closed set.
func ParseCategory(raw string) (Category, bool) {
	label := strings.ToUpper(strings.TrimSpace(raw))
	switch Category(label) {
	case CategorySales, CategorySupport, CategoryTechnical, CategoryEscalation:
		return Category(label), true
	}
	if c, ok := categoryAliases[label]; ok {
		return c, true
	}
	return "", false
}

// Escalated reports whether the category hands the conversation to a human.
func (c Category) Escalated() bool {
	return c == CategoryEscalation
}
