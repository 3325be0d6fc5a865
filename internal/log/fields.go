package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldEventID     = "event_id"
	FieldRoomID      = "room_id"
	FieldSender      = "sender"
	FieldSource      = "source"
	FieldOutcome     = "outcome"
	FieldReason      = "reason"
	FieldAmount      = "amount"
	FieldDescription = "description"
	FieldNote        = "note"
	FieldReaction    = "reaction"
	FieldLedgerRef   = "ledger_ref"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentBot     = "bot"
	ComponentLedger  = "ledger"
	ComponentMatrix  = "matrix"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentConfig  = "config"
)

// Operations defines standard operation names
const (
	OpParse    = "parse"
	OpSubmit   = "submit"
	OpReact    = "react"
	OpRecord   = "record"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeSubmission = "submission_error"
	ErrorTypeDatabase   = "database_error"
	ErrorTypeNetwork    = "network_error"
	ErrorTypeTimeout    = "timeout_error"
	ErrorTypeInternal   = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEvent adds the addressing fields of an inbound chat event
func (f LogFields) WithEvent(source, roomID, sender, eventID string) LogFields {
	f[FieldSource] = source
	f[FieldRoomID] = roomID
	f[FieldSender] = sender
	f[FieldEventID] = eventID
	return f
}

// WithTransaction adds the parsed transaction fields; an empty note is left out
func (f LogFields) WithTransaction(amount, description, note string) LogFields {
	f[FieldAmount] = amount
	f[FieldDescription] = description
	if note != "" {
		f[FieldNote] = note
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
