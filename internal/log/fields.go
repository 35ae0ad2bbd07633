package log

const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID         = "user_id"
	FieldConnID         = "conn_id"
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldCommand        = "command"
	FieldEvent          = "event"
	FieldState          = "state"
	FieldKind           = "kind"
)
