package cache

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/abramin/namelens/internal/mapping"
)

// Latest is the alias resolved to the newest known version.
const Latest = "latest"

// State is the build state of one version.
type State int

const (
	// StateUnbuilt means no dataset exists and no build is running.
	StateUnbuilt State = iota
	// StateBuilding means the first build for the version is in flight.
	StateBuilding
	// StateReady means a dataset is published. A reload may be running.
	StateReady
	// StateFailed means the last build failed. It behaves like StateUnbuilt:
	// the next request starts a fresh build.
	StateFailed
)

var stateNames = [...]string{"unbuilt", "building", "ready", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if string(text) == name {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown state %q", text)
}

// Builder produces the dataset for a version.
type Builder interface {
	Build(ctx context.Context, version string) (*mapping.Dataset, error)
}

// VersionLister supplies the ordering used to resolve Latest.
type VersionLister interface {
	LatestVersion(ctx context.Context) (string, error)
}

// BuildEvent describes a finished build.
type BuildEvent struct {
	Version  string
	Reload   bool
	Stats    *mapping.Stats
	Err      error
	Duration time.Duration
}

// Status is a snapshot of one version's cache entry.
type Status struct {
	Version   string         `json:"version"`
	State     State          `json:"state"`
	Reloading bool           `json:"reloading"`
	Stats     *mapping.Stats `json:"stats,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	FailedAt  time.Time      `json:"failed_at,omitzero"`
	Builds    int            `json:"builds"`
}

// Options configures a Cache.
type Options struct {
	Versions VersionLister
	Metrics  *Metrics
	OnBuilt  func(ctx context.Context, ev BuildEvent)
}

// Option mutates Options.
type Option func(*Options)

// WithVersionLister sets the source used to resolve Latest.
func WithVersionLister(l VersionLister) Option {
	return func(o *Options) { o.Versions = l }
}

// WithMetrics records cache activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithBuildHook calls fn after every build, successful or not.
func WithBuildHook(fn func(ctx context.Context, ev BuildEvent)) Option {
	return func(o *Options) { o.OnBuilt = fn }
}
