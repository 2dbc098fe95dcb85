package domain

// Language is the closed set of output languages the assistant supports.
type Language string

const (
	LangSpanish    Language = "es"
	LangEnglish    Language = "en"
	LangPortuguese Language = "pt"
)

// DefaultLanguage is used whenever detection is inconclusive.
const DefaultLanguage = LangSpanish
