package log

import "cloud.google.com/go/civil"

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldQuery          = "query"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldDurationHuman  = "duration_human"
	FieldUserAgent      = "user_agent"
	FieldSuccess        = "success"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldOwnerID        = "owner_id"
	FieldRuleID         = "rule_id"
	FieldInterval       = "interval"
	FieldRuleVersion    = "rule_version"
	FieldTransactionID  = "transaction_id"
	FieldOccurrenceDate = "occurrence_date"
	FieldAmountCents    = "amount_cents"
	FieldSheetsRef      = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentRules     = "rules"
	ComponentProjector = "projector"
	ComponentProcessor = "processor"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCalendar  = "calendar"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpPause       = "pause"
	OpResume      = "resume"
	OpSkip        = "skip"
	OpMaterialize = "materialize"
	OpProject     = "project"
	OpSync        = "sync"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRule adds the identifying fields of a rule.
func (f LogFields) WithRule(ownerID, ruleID, interval string, version int64) LogFields {
	f[FieldOwnerID] = ownerID
	f[FieldRuleID] = ruleID
	if interval != "" {
		f[FieldInterval] = interval
	}
	if version > 0 {
		f[FieldRuleVersion] = version
	}
	return f
}

// WithOccurrence adds the fields of one occurrence. transactionID is empty
// for virtual occurrences.
func (f LogFields) WithOccurrence(transactionID string, on civil.Date, amountCents int64) LogFields {
	if transactionID != "" {
		f[FieldTransactionID] = transactionID
	}
	f[FieldOccurrenceDate] = on.String()
	f[FieldAmountCents] = amountCents
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

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
