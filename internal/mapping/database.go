package mapping

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// Fetcher resolves a version to the files backing it. Implementations return
// a NoSuchVersionError for versions they do not know.
type Fetcher interface {
	Fetch(ctx context.Context, version string) (Source, error)
}

// Dataset is the parsed mapping data for one version. It is never modified
// after Build returns; a reload produces a new Dataset.
type Dataset struct {
	version string
	buildID string
	builtAt time.Time
	records map[Type][]Record
	srgs    *SrgDatabase
}

// Builder builds datasets from the sources a Fetcher resolves.
type Builder struct {
	fetcher Fetcher
}

// NewBuilder creates a Builder over fetcher.
func NewBuilder(fetcher Fetcher) *Builder {
	return &Builder{fetcher: fetcher}
}

// Build fetches and parses the data for version.
func (b *Builder) Build(ctx context.Context, version string) (*Dataset, error) {
	src, err := b.fetcher.Fetch(ctx, version)
	if err != nil {
		return nil, err
	}
	if src.Version == "" {
		src.Version = version
	}
	return Build(ctx, src)
}

// Build parses the mapping archive and owner table of src. Both are read
// concurrently and every category table is parsed in its own goroutine.
func Build(ctx context.Context, src Source) (*Dataset, error) {
	start := time.Now()
	ds := &Dataset{
		version: src.Version,
		buildID: xid.New().String(),
		records: make(map[Type][]Record, len(registry)),
	}

	var backed []Type
	var entries []string
	for _, t := range Types() {
		if entry := t.Info().Entry; entry != "" {
			backed = append(backed, t)
			entries = append(entries, entry)
		}
	}

	parsed := make([][]Record, len(backed))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := readArchiveEntries(gctx, src.Version, src.Mappings, entries)
		if err != nil {
			return err
		}
		for _, t := range backed {
			if _, ok := raw[t.Info().Entry]; !ok {
				return &ParseError{Version: src.Version, Entry: t.Info().Entry, Detail: "entry missing from archive"}
			}
		}
		var pg errgroup.Group
		for i, t := range backed {
			pg.Go(func() error {
				recs, err := parseTable(src.Version, t, raw[t.Info().Entry])
				if err != nil {
					return err
				}
				parsed[i] = recs
				return nil
			})
		}
		return pg.Wait()
	})
	g.Go(func() error {
		srgs, err := BuildSrgDatabase(gctx, src)
		if err != nil {
			return err
		}
		ds.srgs = srgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, t := range backed {
		ds.records[t] = parsed[i]
	}
	ds.link()
	ds.builtAt = time.Now()

	slog.DebugContext(ctx, "built mapping dataset",
		"version", ds.version,
		"build_id", ds.buildID,
		"owners", ds.srgs.Len(),
		"duration", time.Since(start),
	)
	return ds, nil
}

var paramPattern = regexp.MustCompile(`^p_(i?)(\d+)_`)

// link fills the fields that come from cross-referencing tables: descriptors
// from the owner table and declaring members for params.
func (ds *Dataset) link() {
	for _, t := range Types() {
		if !t.Info().Descriptors {
			continue
		}
		recs := ds.records[t]
		for i := range recs {
			if owners := ds.srgs.Lookup(t, recs[i].Intermediate); len(owners) > 0 {
				recs[i].Descriptor = owners[0].Descriptor
			}
		}
	}

	methods := make(map[string]string)
	for _, m := range ds.records[TypeMethod] {
		if id, ok := methodID(m.Intermediate); ok {
			if _, seen := methods[id]; !seen {
				methods[id] = m.Intermediate
			}
		}
	}
	params := ds.records[TypeParam]
	for i := range params {
		match := paramPattern.FindStringSubmatch(params[i].Intermediate)
		if match == nil || match[1] == "i" {
			continue
		}
		if name, ok := methods[match[2]]; ok {
			params[i].OwnerHint = &name
		}
	}
}

// methodID extracts the numeric id of func_<id>_x style names.
func methodID(intermediate string) (string, bool) {
	rest, ok := strings.CutPrefix(intermediate, "func_")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "_")
	return id, ok && id != ""
}

// Lookup returns the records of type t matching query, in table order.
//
// A query of the form Owner.name restricts matches to members whose owning
// class ends with Owner. Params are never filtered by owner.
func (ds *Dataset) Lookup(t Type, query string) []Record {
	name := query
	hint := ""
	hasHint := false
	if i := strings.LastIndex(query, "."); i >= 0 {
		hint, name = query[:i], query[i+1:]
		hasHint = true
	}

	var matches []Record
	for _, r := range ds.records[t] {
		if strings.Contains(r.Intermediate, name) || (r.Official != nil && *r.Official == name) {
			matches = append(matches, r)
		}
	}

	// TODO: filter params by the owner of their declaring method (OwnerHint).
	if !hasHint || t == TypeParam {
		return matches
	}

	filtered := matches[:0]
	for _, r := range matches {
		if strings.HasSuffix(ds.srgs.Owner(t, r.Intermediate), hint) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Owner returns the owning class of a record, or "" when unknown.
func (ds *Dataset) Owner(r Record) string {
	return ds.srgs.Owner(r.Type, r.Intermediate)
}

// Version is the version this dataset was built for.
func (ds *Dataset) Version() string { return ds.version }

// BuildID identifies the build that produced this dataset.
func (ds *Dataset) BuildID() string { return ds.buildID }

// BuiltAt is when the build finished.
func (ds *Dataset) BuiltAt() time.Time { return ds.builtAt }

// Stats summarises the dataset.
func (ds *Dataset) Stats() Stats {
	counts := make(map[Type]int, len(ds.records))
	for t, recs := range ds.records {
		counts[t] = len(recs)
	}
	return Stats{
		Version: ds.version,
		BuildID: ds.buildID,
		BuiltAt: ds.builtAt,
		Records: counts,
		Owners:  ds.srgs.Len(),
	}
}
