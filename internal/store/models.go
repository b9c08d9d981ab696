// Package store is the SQLite-backed persistence layer for projects,
// endpoints, runs, and sampled run timelines.
package store

import (
	"time"

	"github.com/bc-dunia/httpdrill/internal/stats"
)

// AuthSpec describes a preflight token-fetch step, embedded on a Project or
// an Endpoint (an Endpoint's AuthSpec, when set, overrides its Project's).
type AuthSpec struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ContentType  string            `json:"contentType,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TokenPath    string            `json:"tokenPath"`
	HeaderName   string            `json:"headerName"`
	HeaderPrefix string            `json:"headerPrefix"`
}

// Project groups endpoints under a shared name and optional default auth.
type Project struct {
	ID          int64
	Name        string
	Description string
	Auth        *AuthSpec
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectDTO carries user-editable Project fields.
type ProjectDTO struct {
	Name        string
	Description string
}

// Endpoint is a reusable load target owned by a Project.
type Endpoint struct {
	ID                     int64
	ProjectID              int64
	Name                   string
	Description            string
	URL                    string
	Method                 string
	DefaultUsers           int
	DefaultRequests        *int64
	DefaultDurationSeconds *int64
	ContentType            string
	Body                   []byte
	InsecureTLS            bool
	RequiresAuth           bool
	Headers                map[string]string
	Auth                   *AuthSpec
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// EndpointDTO carries user-editable Endpoint fields.
type EndpointDTO struct {
	Name                   string
	Description            string
	URL                    string
	Method                 string
	DefaultUsers           int
	DefaultRequests        *int64
	DefaultDurationSeconds *int64
	ContentType            string
	Body                   []byte
	InsecureTLS            bool
	RequiresAuth           bool
	Headers                map[string]string
	Auth                   *AuthSpec
}

// RunStatus is the terminal-or-running state of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
	RunCancelled RunStatus = "Cancelled"
)

// RunRequest is an inline, ad-hoc load specification.
type RunRequest struct {
	URL              string
	Method           string
	Users            int
	Requests         *int64
	DurationSeconds  *int64
	Body             []byte
	ContentType      string
	Headers          map[string]string
	InsecureTLS      bool
	Auth             *AuthSpec
}

// Run captures one load execution's configuration and, once terminal, its
// aggregate result. Configuration is captured at creation time so later
// edits to the owning endpoint never alter history.
type Run struct {
	ID                    int64
	RunToken              string
	EndpointID            *int64
	URL                   string
	Method                string
	Users                 int
	TargetRequests        *int64
	TargetDurationSeconds *int64
	ContentType           string
	Body                  []byte
	Headers               map[string]string
	InsecureTLS           bool

	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time

	Total           int64
	Successful      int64
	Failed          int64
	ElapsedMs       int64
	PeakRPS         float64
	Latency         stats.Aggregate
	StatusBreakdown map[int]stats.Aggregate
	ErrorMessage    string
}

// Snapshot is one sampled point in a run's timeline.
type Snapshot struct {
	ID                  int64
	RunID               int64
	Timestamp           time.Time
	Total               int64
	Successful          int64
	Failed              int64
	ResponseTimeMs      int64
	StatusCode          int
	AverageResponseTime float64
	CurrentRPS          float64
}

// SearchFilter narrows Runs.Search.
type SearchFilter struct {
	EndpointID *int64
	ProjectID  *int64
	Status     RunStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// RunStatistics summarizes completed-run history, optionally scoped to a
// project or endpoint.
type RunStatistics struct {
	ByStatus      map[RunStatus]int64
	TotalRequests int64
	AvgLatencyMs  float64
	AvgRPS        float64
}

// ExportPayload is the on-the-wire shape produced by Export and consumed by
// Import.
type ExportPayload struct {
	Version      string          `json:"version"`
	ExportedAt   time.Time       `json:"exportedAt"`
	Project      ExportedProject `json:"project"`
}

type ExportedProject struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Auth        *AuthSpec          `json:"auth,omitempty"`
	Endpoints   []ExportedEndpoint `json:"endpoints"`
}

type ExportedEndpoint struct {
	Name                   string         `json:"name"`
	Description            string         `json:"description,omitempty"`
	URL                    string         `json:"url"`
	Method                 string         `json:"method"`
	DefaultUsers           int            `json:"defaultUsers"`
	DefaultRequests        *int64         `json:"defaultRequests,omitempty"`
	DefaultDurationSeconds *int64         `json:"defaultDurationSeconds,omitempty"`
	ContentType            string         `json:"contentType,omitempty"`
	Body                   []byte         `json:"body,omitempty"`
	InsecureTLS            bool           `json:"insecureTls"`
	RequiresAuth           bool           `json:"requiresAuth"`
	Headers                map[string]string `json:"headers,omitempty"`
	Auth                   *AuthSpec      `json:"auth,omitempty"`
	Executions             []ExportedRun  `json:"executions"`
}

// ExportedRun carries a run's full aggregates without its snapshot timeline.
type ExportedRun struct {
	RunToken              string                    `json:"runToken"`
	URL                   string                    `json:"url"`
	Method                string                    `json:"method"`
	Users                 int                       `json:"users"`
	TargetRequests        *int64                    `json:"targetRequests,omitempty"`
	TargetDurationSeconds *int64                    `json:"targetDurationSeconds,omitempty"`
	Status                RunStatus                 `json:"status"`
	StartedAt             time.Time                 `json:"startedAt"`
	CompletedAt           *time.Time                `json:"completedAt,omitempty"`
	Total                 int64                     `json:"total"`
	Successful            int64                     `json:"successful"`
	Failed                int64                     `json:"failed"`
	ElapsedMs             int64                     `json:"elapsedMs"`
	PeakRPS               float64                   `json:"peakRps"`
	Latency               stats.Aggregate           `json:"latency"`
	StatusBreakdown       map[int]stats.Aggregate   `json:"statusBreakdown,omitempty"`
	ErrorMessage          string                    `json:"errorMessage,omitempty"`
}
