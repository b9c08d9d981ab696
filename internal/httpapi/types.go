package httpapi

// ErrorResponse is the standard error envelope returned by every handler
// that fails.
type ErrorResponse struct {
	ErrorType    string         `json:"error_type"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	Retryable    bool           `json:"retryable"`
	Details      map[string]any `json:"details,omitempty"`
}

const (
	ErrorTypeInvalidArgument = "invalid_argument"
	ErrorTypeNotFound        = "not_found"
	ErrorTypeConflict        = "conflict"
	ErrorTypeUnauthorized    = "unauthorized"
	ErrorTypeInternal        = "internal"
)

const (
	ErrorCodeValidationFailed = "VALIDATION_FAILED"
	ErrorCodeRunInProgress    = "RUN_IN_PROGRESS"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeAuthFailed       = "AUTH_FAILED"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
	ErrorCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// HealthResponse is the body of GET /healthz: a host resource snapshot.
type HealthResponse struct {
	Status       string  `json:"status"`
	CPUPercent   float64 `json:"cpuPercent"`
	MemTotal     uint64  `json:"memTotal"`
	MemUsed      uint64  `json:"memUsed"`
	MemAvailable uint64  `json:"memAvailable"`
	LoadAvg1     float64 `json:"loadAvg1"`
	LoadAvg5     float64 `json:"loadAvg5"`
	LoadAvg15    float64 `json:"loadAvg15"`
}

// StartRunRequest is the JSON body of POST /runs.
type StartRunRequest struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Users           int               `json:"users"`
	Requests        *int64            `json:"requests,omitempty"`
	DurationSeconds *int64            `json:"durationSeconds,omitempty"`
	Body            []byte            `json:"body,omitempty"`
	ContentType     string            `json:"contentType,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	InsecureTLS     bool              `json:"insecureTls,omitempty"`
	Auth            *AuthSpecDTO      `json:"auth,omitempty"`
}

// AuthSpecDTO is the wire shape of store.AuthSpec.
type AuthSpecDTO struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ContentType  string            `json:"contentType,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TokenPath    string            `json:"tokenPath"`
	HeaderName   string            `json:"headerName"`
	HeaderPrefix string            `json:"headerPrefix"`
}

// StartRunResponse is the body returned by a successful run start.
type StartRunResponse struct {
	RunToken string `json:"runToken"`
}

// TestAuthRequest is the JSON body of POST /auth/test.
type TestAuthRequest struct {
	Auth     AuthSpecDTO `json:"auth"`
	Insecure bool        `json:"insecure"`
}

// TestAuthResponse reports the result of a one-off token fetch.
type TestAuthResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// IsRunningResponse is the body of GET /runs/running.
type IsRunningResponse struct {
	Running bool `json:"running"`
}
