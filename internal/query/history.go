package query

import (
	"context"
	"log/slog"

	"github.com/abramin/namelens/internal/cache"
	"github.com/abramin/namelens/internal/store"
)

// BuildRecorder persists finished builds.
type BuildRecorder interface {
	RecordBuild(ctx context.Context, b *store.Build) (store.BuildID, error)
}

// RecordBuilds returns a cache build hook that appends every build to rec.
// Persistence failures are logged and never affect the build.
func RecordBuilds(rec BuildRecorder) func(ctx context.Context, ev cache.BuildEvent) {
	return func(ctx context.Context, ev cache.BuildEvent) {
		b := &store.Build{
			Version:  ev.Version,
			Kind:     store.BuildKindBuild,
			Outcome:  store.Outcome(cache.Outcome(ev.Err)),
			Duration: ev.Duration,
		}
		if ev.Reload {
			b.Kind = store.BuildKindReload
		}
		if ev.Err != nil {
			b.Error = ev.Err.Error()
		}
		if ev.Stats != nil {
			b.BuildID = ev.Stats.BuildID
			b.FinishedAt = ev.Stats.BuiltAt
			b.Owners = ev.Stats.Owners
			b.Records = make(map[string]int, len(ev.Stats.Records))
			for t, n := range ev.Stats.Records {
				b.Records[t.String()] = n
			}
		}
		if _, err := rec.RecordBuild(ctx, b); err != nil {
			slog.WarnContext(ctx, "recording build history failed", "error", err)
		}
	}
}
