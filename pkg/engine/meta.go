package engine

import "context"

type turnMetaContextKey string

const (
	sessionIDContextKey turnMetaContextKey = "session_id"
	turnMetaKey         turnMetaContextKey = "turn_meta"
)

// TurnMeta identifies the turn a model call is producing.
type TurnMeta struct {
	SessionID     string
	ParticipantID int
	RoundIndex    int
}

// WithTurnMeta stores the turn identity in ctx so invokers and loggers can
// correlate a model call with its session.
func WithTurnMeta(ctx context.Context, meta TurnMeta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meta.SessionID != "" {
		ctx = context.WithValue(ctx, sessionIDContextKey, meta.SessionID)
	}
	return context.WithValue(ctx, turnMetaKey, meta)
}

// SessionIDFromContext returns the session id attached with WithTurnMeta, or "".
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// TurnMetaFromContext returns the turn identity attached with WithTurnMeta.
func TurnMetaFromContext(ctx context.Context) (TurnMeta, bool) {
	if ctx == nil {
		return TurnMeta{}, false
	}
	meta, ok := ctx.Value(turnMetaKey).(TurnMeta)
	return meta, ok
}
