package language

import (
	"strings"
	"time"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
)

// Detector resolves the language of an inbound message from the closed
// supported set. Spanish is the default when no signal is found.
type Detector struct {
	now func() time.Time
}

func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Markers are short, high-frequency words that rarely collide across the
// three supported languages. Accented Spanish words are matched without
// needing exact diacritics elsewhere.
var (
	englishMarkers = []string{
		"the", "and", "you", "how", "much", "price", "plan", "need",
		"want", "where", "when", "hello", "thanks", "please", "help",
		"buy", "days", "trip", "travel", "my", "is", "it", "for",
	}
	portugueseMarkers = []string{
		"você", "voce", "obrigado", "obrigada", "quanto", "custa",
		"preço", "preco", "viagem", "comprar", "olá", "ola", "bom",
		"dia", "preciso", "quero", "não", "nao", "está", "esta",
	}
	spanishMarkers = []string{
		"hola", "cuánto", "cuanto", "cuesta", "precio", "viaje",
		"necesito", "quiero", "dónde", "donde", "gracias", "por",
		"favor", "días", "dias", "comprar", "ayuda", "qué", "que",
	}
)

// Detect scores the message against per-language marker lists and returns
// the best match, defaulting to Spanish on ties or silence.
func (d *Detector) Detect(text string) domain.Language {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return domain.DefaultLanguage
	}

	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,!?¿¡:;\"'()")] = true
	}

	en := score(seen, englishMarkers)
	pt := score(seen, portugueseMarkers)
	es := score(seen, spanishMarkers)

	if en > es && en > pt {
		return domain.LangEnglish
	}
	if pt > es && pt > en {
		return domain.LangPortuguese
	}
	return domain.DefaultLanguage
}

func score(seen map[string]bool, markers []string) int {
	n := 0
	for _, m := range markers {
		if seen[m] {
			n++
		}
	}
	return n
}

// Greeting returns a time-of-day greeting in the given language, used as
// conversational context by the sales prompt.
func (d *Detector) Greeting(lang domain.Language) string {
	hour := d.now().Hour()

	var slot int
	switch {
	case hour < 12:
		slot = 0
	case hour < 19:
		slot = 1
	default:
		slot = 2
	}

	greetings := map[domain.Language][3]string{
		domain.LangSpanish:    {"buenos días", "buenas tardes", "buenas noches"},
		domain.LangEnglish:    {"good morning", "good afternoon", "good evening"},
		domain.LangPortuguese: {"bom dia", "boa tarde", "boa noite"},
	}

	g, ok := greetings[lang]
	if !ok {
		g = greetings[domain.DefaultLanguage]
	}
	return g[slot]
}
