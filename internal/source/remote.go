package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/abramin/namelens/internal/mapping"
)

const (
	remoteArchive  = "mappings.zip"
	remoteOwners   = "owners.csv"
	remoteVersions = "versions.json"

	// DefaultVersionsTTL is how long a fetched version list is reused.
	DefaultVersionsTTL = 5 * time.Minute

	// latestWait bounds how long LatestVersion waits for a first listing
	// when versions already exist on disk.
	latestWait  = 200 * time.Millisecond
	listTimeout = 30 * time.Second
)

// Remote serves versions from a local Dir, downloading missing ones from
// an HTTP mirror laid out as
//
//	<base>/versions.json
//	<base>/<version>/mappings.zip
//	<base>/<version>/owners.csv
//
// The mirror's version list is kept in memory for the configured TTL and
// refreshed off the lookup path.
type Remote struct {
	dir     *Dir
	baseURL string
	client  *grab.Client
	ttl     time.Duration

	// mu serialises downloads into the shared directory.
	mu sync.Mutex

	listMu   sync.Mutex
	listed   []string
	listedAt time.Time
	listing  singleflight.Group
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithVersionsTTL sets how long the mirror's version list is reused. A
// non-positive TTL keeps the default.
func WithVersionsTTL(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// NewRemote creates a Remote that mirrors baseURL into dir.
func NewRemote(dir *Dir, baseURL, userAgent string, opts ...RemoteOption) *Remote {
	client := grab.NewClient()
	if userAgent != "" {
		client.UserAgent = userAgent
	}
	r := &Remote{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		ttl:     DefaultVersionsTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch implements mapping.Fetcher. A version already on disk is served
// without touching the network. Only the missing files are downloaded, into
// a staging directory, and they are moved into place once all of them
// arrived, so a failed download never touches files already on disk.
func (r *Remote) Fetch(ctx context.Context, version string) (mapping.Source, error) {
	src, err := r.dir.Fetch(ctx, version)
	if err == nil || !mapping.IsNoSuchVersion(err) || !validVersion(version) {
		return src, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have finished the download while we waited.
	if src, err := r.dir.Fetch(ctx, version); err == nil {
		return src, nil
	}

	base := filepath.Join(r.dir.Root(), version)
	var missing []remoteFile
	for _, f := range []remoteFile{{remoteArchive, mappingsDir}, {remoteOwners, ownersDir}} {
		if _, err := firstFile(filepath.Join(base, f.dir)); err != nil {
			missing = append(missing, f)
		}
	}

	if err := os.MkdirAll(r.dir.Root(), 0755); err != nil {
		return mapping.Source{}, errors.Errorf("creating %s: %w", r.dir.Root(), err)
	}
	staging, err := os.MkdirTemp(r.dir.Root(), ".download-")
	if err != nil {
		return mapping.Source{}, errors.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, f := range missing {
		if err := r.download(ctx, r.baseURL+"/"+version+"/"+f.name, filepath.Join(staging, f.name)); err != nil {
			if isNotFound(err) {
				return mapping.Source{}, &mapping.NoSuchVersionError{Version: version}
			}
			return mapping.Source{}, errors.Errorf("fetching %s: %w", version, err)
		}
	}

	var placed []string
	for _, f := range missing {
		dst := filepath.Join(base, f.dir, f.name)
		err := os.MkdirAll(filepath.Dir(dst), 0755)
		if err == nil {
			err = os.Rename(filepath.Join(staging, f.name), dst)
		}
		if err != nil {
			for _, p := range placed {
				_ = os.Remove(p)
			}
			return mapping.Source{}, errors.Errorf("installing %s: %w", dst, err)
		}
		placed = append(placed, dst)
	}

	return r.dir.Fetch(ctx, version)
}

type remoteFile struct {
	name string
	dir  string
}

// Versions lists the versions the mirror publishes merged with those on
// disk, oldest first. A list fetched within the TTL is reused. When the
// mirror cannot be reached the last known list (or only the local one) is
// used.
func (r *Remote) Versions(ctx context.Context) ([]string, error) {
	local, err := r.dir.Versions(ctx)
	if err != nil {
		return nil, err
	}

	remote, fresh := r.cached()
	if !fresh {
		res, err := r.awaitListing(ctx, r.refresh(ctx))
		if err != nil {
			slog.WarnContext(ctx, "listing remote versions failed, using last known list", "base_url", r.baseURL, "error", err)
		} else {
			remote = res
		}
	}
	return mergeVersions(local, remote), nil
}

// LatestVersion returns the highest version known locally or remotely. It
// does not wait on a slow mirror when it can answer from what it already
// knows: a stale list is used as is while it refreshes in the background,
// and with no list yet it waits only briefly if versions exist on disk.
func (r *Remote) LatestVersion(ctx context.Context) (string, error) {
	local, err := r.dir.Versions(ctx)
	if err != nil {
		return "", err
	}

	remote, fresh := r.cached()
	if !fresh {
		ch := r.refresh(ctx)
		switch {
		case remote != nil:
			// Stale: answer now, the refresh finishes in the background.
		case len(local) == 0:
			if res, err := r.awaitListing(ctx, ch); err == nil {
				remote = res
			}
		default:
			wctx, cancel := context.WithTimeout(ctx, latestWait)
			if res, err := r.awaitListing(wctx, ch); err == nil {
				remote = res
			}
			cancel()
		}
	}
	return latest(mergeVersions(local, remote))
}

func (r *Remote) cached() (versions []string, fresh bool) {
	r.listMu.Lock()
	defer r.listMu.Unlock()
	return r.listed, r.listed != nil && time.Since(r.listedAt) < r.ttl
}

// refresh starts (or joins) a fetch of the mirror's version list. The fetch
// is detached from ctx so an impatient caller never cancels it for the
// others.
func (r *Remote) refresh(ctx context.Context) <-chan singleflight.Result {
	return r.listing.DoChan(remoteVersions, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()

		versions, err := r.fetchVersions(lctx)
		if err != nil {
			return nil, err
		}
		r.listMu.Lock()
		r.listed, r.listedAt = versions, time.Now()
		r.listMu.Unlock()
		return versions, nil
	})
}

func (r *Remote) awaitListing(ctx context.Context, ch <-chan singleflight.Result) ([]string, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Remote) fetchVersions(ctx context.Context) ([]string, error) {
	url := r.baseURL + "/" + remoteVersions
	req, err := grab.NewRequest(remoteVersions, url)
	if err != nil {
		return nil, errors.Errorf("building request for %s: %w", url, err)
	}
	req = req.WithContext(ctx)
	req.NoStore = true
	req.NoResume = true

	data, err := r.client.Do(req).Bytes()
	if err != nil {
		return nil, errors.Errorf("downloading %s: %w", url, err)
	}
	var versions []string
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, errors.Errorf("decoding %s: %w", remoteVersions, err)
	}
	if versions == nil {
		// An empty list is still a listing.
		versions = []string{}
	}
	return versions, nil
}

func mergeVersions(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	merged := make([]string, 0, len(local)+len(remote))
	for _, list := range [][]string{local, remote} {
		for _, v := range list {
			if seen[v] || !validVersion(v) {
				continue
			}
			seen[v] = true
			merged = append(merged, v)
		}
	}
	SortVersions(merged)
	return merged
}

func (r *Remote) download(ctx context.Context, url, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return errors.Errorf("building request for %s: %w", url, err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true

	slog.DebugContext(ctx, "downloading", "url", url, "file", dst)
	resp := r.client.Do(req)
	if err := resp.Err(); err != nil {
		return errors.Errorf("downloading %s: %w", url, err)
	}
	slog.InfoContext(ctx, "downloaded", "url", url, "file", resp.Filename, "bytes", resp.BytesComplete())
	return nil
}

func isNotFound(err error) bool {
	var status grab.StatusCodeError
	if errors.As(err, &status) {
		return int(status) == http.StatusNotFound || int(status) == http.StatusGone
	}
	return false
}
