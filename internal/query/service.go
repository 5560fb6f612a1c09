// Package query resolves which version a lookup runs against and applies
// the bounded wait before a slow build is reported to the caller.
package query

import (
	"context"
	"slices"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/abramin/namelens/internal/cache"
	"github.com/abramin/namelens/internal/mapping"
	"github.com/abramin/namelens/internal/store"
)

// DefaultWait is how long Lookup waits for a build before returning a
// pending result.
const DefaultWait = 500 * time.Millisecond

var (
	// ErrInvalidVersion is returned when a guild default names a version
	// that is not published.
	ErrInvalidVersion = errors.Base("invalid version")
	// ErrEmptyName is returned for lookups without a name.
	ErrEmptyName = errors.Base("name must not be empty")
)

// Defaults stores the per-guild default version.
type Defaults interface {
	GetDefault(ctx context.Context, guild string) (string, bool, error)
	SetDefault(ctx context.Context, guild, version string) error
	ClearDefault(ctx context.Context, guild string) (bool, error)
	ListDefaults(ctx context.Context) ([]store.GuildDefault, error)
}

// VersionLister lists the published versions, oldest first.
type VersionLister interface {
	Versions(ctx context.Context) ([]string, error)
}

// Request is one lookup.
type Request struct {
	Type mapping.Type
	Name string
	// Version is optional. Without it the guild default applies, then latest.
	Version string
	Guild   string
}

// Result is the answer to a Request. When Pending is true the build
// outlived the wait and Future delivers the records later.
type Result struct {
	Version string
	Records []mapping.Record
	Dataset *mapping.Dataset
	Pending bool
	Future  *cache.Future
}

// Service answers lookups against a cache.
type Service struct {
	cache    *cache.Cache
	defaults Defaults
	versions VersionLister
	wait     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithWait overrides DefaultWait.
func WithWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.wait = d
		}
	}
}

// New creates a Service. defaults may be nil, in which case every guild
// uses latest.
func New(c *cache.Cache, defaults Defaults, versions VersionLister, opts ...Option) *Service {
	s := &Service{
		cache:    c,
		defaults: defaults,
		versions: versions,
		wait:     DefaultWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the cache the service queries.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// ResolveVersion picks the version a lookup runs against: the explicit
// version, else the guild default, else latest.
func (s *Service) ResolveVersion(ctx context.Context, explicit, guild string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if guild != "" && s.defaults != nil {
		v, ok, err := s.defaults.GetDefault(ctx, guild)
		if err != nil {
			return "", err
		}
		if ok {
			return v, nil
		}
	}
	return cache.Latest, nil
}

// Lookup runs req, waiting at most the configured bound for a build.
func (s *Service) Lookup(ctx context.Context, req Request) (*Result, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	version, err := s.ResolveVersion(ctx, req.Version, req.Guild)
	if err != nil {
		return nil, err
	}

	f := s.cache.Lookup(ctx, req.Type, name, version)
	records, ready, err := f.WaitFor(s.wait)
	if !ready {
		return &Result{Version: version, Pending: true, Future: f}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Version: f.Version(), Records: records, Dataset: f.Dataset(), Future: f}, nil
}

// Wait blocks until a pending result completes and fills it in.
func (r *Result) Wait(ctx context.Context) error {
	if !r.Pending {
		return nil
	}
	records, err := r.Future.Wait(ctx)
	if err != nil {
		return err
	}
	r.Pending = false
	r.Records = records
	r.Version = r.Future.Version()
	r.Dataset = r.Future.Dataset()
	return nil
}

// Versions lists the published versions, oldest first.
func (s *Service) Versions(ctx context.Context) ([]string, error) {
	return s.versions.Versions(ctx)
}

// Default returns the default version of guild, or latest.
func (s *Service) Default(ctx context.Context, guild string) (string, bool, error) {
	if s.defaults == nil {
		return cache.Latest, false, nil
	}
	v, ok, err := s.defaults.GetDefault(ctx, guild)
	if err != nil || !ok {
		return cache.Latest, false, err
	}
	return v, true, nil
}

// SetDefault sets the default version of guild. Setting latest clears it.
// Versions that are not published are rejected with ErrInvalidVersion.
func (s *Service) SetDefault(ctx context.Context, guild, version string) error {
	if s.defaults == nil {
		return errors.New("no default store configured")
	}
	if version == cache.Latest {
		_, err := s.defaults.ClearDefault(ctx, guild)
		return err
	}
	known, err := s.versions.Versions(ctx)
	if err != nil {
		return errors.Errorf("listing versions: %w", err)
	}
	if !slices.Contains(known, version) {
		return errors.Errorf("%w: %s", ErrInvalidVersion, version)
	}
	return s.defaults.SetDefault(ctx, guild, version)
}

// ListDefaults returns every guild that has a default version.
func (s *Service) ListDefaults(ctx context.Context) ([]store.GuildDefault, error) {
	if s.defaults == nil {
		return nil, nil
	}
	return s.defaults.ListDefaults(ctx)
}

// ClearDefault removes the default of guild so it uses latest again.
func (s *Service) ClearDefault(ctx context.Context, guild string) (bool, error) {
	if s.defaults == nil {
		return false, nil
	}
	return s.defaults.ClearDefault(ctx, guild)
}
