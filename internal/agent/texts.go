package agent

import "github.com/stevenriosCOL/agente-ia-sensora/internal/domain"

// Static texts returned without any provider involvement. Spanish is the
// fallback for unknown languages.

var escalationMessages = map[domain.Language]string{
	domain.LangSpanish:    "Entiendo que necesitas ayuda más específica. Te he conectado con nuestro equipo de soporte. Escríbeles a hola@vuelasim.com con tu consulta detallada y te responderán lo antes posible. También he notificado a nuestro equipo sobre tu caso.",
	domain.LangEnglish:    "I understand you need more specific help. I have connected you with our support team. Write to hola@vuelasim.com with your detailed inquiry and they will respond as soon as possible. I have also notified our team about your case.",
	domain.LangPortuguese: "Entendo que você precisa de ajuda mais específica. Conectei você com nossa equipe de suporte. Escreva para hola@vuelasim.com com sua consulta detalhada e eles responderão o mais rápido possível. Também notifiquei nossa equipe sobre seu caso.",
}

var fallbackMessages = map[domain.Language]string{
	domain.LangSpanish:    "Disculpa, tuve un problema técnico. ¿Podrías repetir tu consulta? Si el problema persiste, escríbenos a hola@vuelasim.com",
	domain.LangEnglish:    "Sorry, I had a technical issue. Could you repeat your question? If the problem persists, write to us at hola@vuelasim.com",
	domain.LangPortuguese: "Desculpe, tive um problema técnico. Você poderia repetir sua consulta? Se o problema persistir, escreva para hola@vuelasim.com",
}

var rateLimitNotices = map[domain.Language]string{
	domain.LangSpanish:    "Has alcanzado el límite de mensajes por hoy. Por favor intenta mañana o contacta a hola@vuelasim.com",
	domain.LangEnglish:    "You have reached today's message limit. Please try again tomorrow or contact hola@vuelasim.com",
	domain.LangPortuguese: "Você atingiu o limite de mensagens de hoje. Tente novamente amanhã ou entre em contato com hola@vuelasim.com",
}

// EscalationMessage is the terminal reply for the escalation category.
func EscalationMessage(lang domain.Language) string {
	return pick(escalationMessages, lang)
}

// FallbackMessage is the reply used when generation fails.
func FallbackMessage(lang domain.Language) string {
	return pick(fallbackMessages, lang)
}

// RateLimitNotice is the reply sent when admission is denied.
func RateLimitNotice(lang domain.Language) string {
	return pick(rateLimitNotices, lang)
}

func pick(m map[domain.Language]string, lang domain.Language) string {
	if msg, ok := m[lang]; ok {
		return msg
	}
	return m[domain.DefaultLanguage]
}
