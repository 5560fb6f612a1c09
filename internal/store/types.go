package store

import "time"

// BuildID is the row identifier of a recorded build.
type BuildID int64

// BuildKind distinguishes first builds from reloads.
type BuildKind string

const (
	BuildKindBuild  BuildKind = "build"
	BuildKindReload BuildKind = "reload"
)

// Outcome is the result class of a build.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeNoSuchVersion Outcome = "no_such_version"
	OutcomeParseError    Outcome = "parse_error"
	OutcomeError         Outcome = "error"
)

// GuildDefault is the version a guild queries when none is given.
type GuildDefault struct {
	Guild     string    `json:"guild"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Build is one finished dataset build.
type Build struct {
	ID         BuildID        `json:"id"`
	BuildID    string         `json:"build_id,omitempty"` // Dataset build id; empty on failure
	Version    string         `json:"version"`
	Kind       BuildKind      `json:"kind"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	Records    map[string]int `json:"records,omitempty"` // Record count per mapping type
	Owners     int            `json:"owners"`
	Duration   time.Duration  `json:"duration"`
	FinishedAt time.Time      `json:"finished_at"`
}
