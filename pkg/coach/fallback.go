package coach

import "github.com/freedive-ai/coach/pkg/resilience"

// ReasonBudgetExceeded is the fallback reason used when a user is over budget.
const ReasonBudgetExceeded = "budget_exceeded"

const safetyReminder = " In the meantime, remember to always dive with a buddy."

var fallbacks = map[string]string{
	string(resilience.TypeRateLimit):     "I'm getting a lot of questions right now. Please give me a moment and try again.",
	string(resilience.TypeQuotaExceeded): "Coaching is temporarily unavailable. Please try again a little later.",
	string(resilience.TypeAuthFailure):   "Coaching is temporarily unavailable. Please try again a little later.",
	string(resilience.TypeServerError):   "I'm having trouble reaching my coaching knowledge right now. Please try again shortly.",
	string(resilience.TypeTimeout):       "This is taking longer than usual. Please try asking again in a moment.",
	string(resilience.TypeNetworkError):  "I'm having trouble connecting right now. Please check back in a moment.",
	string(resilience.TypeValidation):    "I couldn't process that message. Could you try rephrasing it?",
	string(resilience.TypeCircuitOpen):   "I'm taking a short break to recover from some technical issues. Please try again in a few minutes.",
	ReasonBudgetExceeded:                 "You've reached your coaching limit for now. Your allowance resets soon.",
}

const defaultFallback = "Something went wrong on my side, but I'm still here. Please try again in a moment."

// FallbackMessage returns a reassuring reply for a failure reason, usually an
// error classification type.
func FallbackMessage(reason string) string {
	msg, ok := fallbacks[reason]
	if !ok {
		msg = defaultFallback
	}
	return msg + safetyReminder
}
