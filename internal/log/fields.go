package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldWorkspaceID = "workspace_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorKind   = "error_kind"
	FieldOperation   = "operation"
	FieldRoute       = "route"
	FieldHousehold   = "household"
	FieldMember      = "member"
	FieldReceiptID   = "receipt_id"
	FieldVendor      = "vendor"
	FieldItemCount   = "item_count"
	FieldCategory    = "category"
	FieldGeneration  = "draft_generation"
	FieldEndpoint    = "endpoint"
	FieldEventType   = "event_type"
	FieldEventID     = "event_id"
	FieldLedgerRef   = "ledger_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSession   = "session"
	ComponentFrontend  = "frontend"
	ComponentAPI       = "api"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentTemplate  = "template"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpLogin    = "login"
	OpLogout   = "logout"
	OpCreate   = "create"
	OpAnalyze  = "analyze"
	OpLoad     = "load"
	OpSave     = "save"
	OpDelete   = "delete"
	OpSettle   = "settle"
	OpPublish  = "publish"
	OpExport   = "export"
	OpRender   = "render"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
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

// WithReceipt adds the receipt being edited or saved.
func (f LogFields) WithReceipt(id int64, vendor string, items int) LogFields {
	f[FieldReceiptID] = id
	if vendor != "" {
		f[FieldVendor] = vendor
	}
	f[FieldItemCount] = items
	return f
}

func (f LogFields) WithHousehold(code, member string) LogFields {
	if code != "" {
		f[FieldHousehold] = code
	}
	if member != "" {
		f[FieldMember] = member
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
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
