package audit

import (
	"context"

	"github.com/cartpulse/cartpulse/pkg/log"
)

// Audit actions for the realtime service.
const (
	ActionAuth         = "cart.auth"
	ActionAuthFailed   = "cart.auth_failed"
	ActionJoinRoom     = "cart.join_room"
	ActionLeaveRoom    = "cart.leave_room"
	ActionSendMessage  = "cart.send_message"
	ActionMarkRead     = "cart.mark_read"
	ActionDisconnect   = "cart.disconnect"
	ActionPriceTrigger = "cart.price_trigger"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
