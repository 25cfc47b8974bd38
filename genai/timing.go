package genai

import (
	"context"
	"log"
	"time"
)

type ctxKey string

// SessionKey tags AI calls with the session they serve
const SessionKey ctxKey = "session"

// WithSession returns a context whose AI calls are logged with sessionID
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionKey, sessionID)
}

// timeOp logs the duration and outcome of an AI call:
//
//	defer timeOp(ctx, "gemini.geocode")(&err)
func timeOp(ctx context.Context, name string) func(errp *error) {
	start := time.Now()

	session, _ := ctx.Value(SessionKey).(string)

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			log.Printf("[AI] session=%s op=%s dur=%dms err=%v", session, name, dur.Milliseconds(), *errp)
			return
		}
		log.Printf("[AI] session=%s op=%s dur=%dms", session, name, dur.Milliseconds())
	}
}
