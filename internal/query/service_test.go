package query

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/namelens/internal/cache"
	"github.com/abramin/namelens/internal/mapping"
	"github.com/abramin/namelens/internal/source"
	"github.com/abramin/namelens/internal/store"
)

// writeVersion lays out one version the way source.Dir expects it.
func writeVersion(t *testing.T, root, version, fieldName string) {
	t.Helper()
	dir := filepath.Join(root, version, "mappings")
	require.NoError(t, os.MkdirAll(dir, 0755))

	f, err := os.Create(filepath.Join(dir, "mcp.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range map[string]string{
		"fields.csv":  "searge,name,side,desc\nfield_1_x," + fieldName + ",2,The x coordinate\n",
		"methods.csv": "searge,name,side,desc\nfunc_2_a,getX,0,\n",
		"params.csv":  "param,name,side\np_2_1_,amount,2\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	owners := filepath.Join(root, version, "owners")
	require.NoError(t, os.MkdirAll(owners, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(owners, "joined.csv"),
		[]byte("field_1_x,net/example/AxisAlignedBB\nfunc_2_a,net/example/BlockPos,()I\n"), 0644))
}

// gatedBuilder holds builds until release is closed.
type gatedBuilder struct {
	inner   cache.Builder
	release chan struct{}
}

func (g *gatedBuilder) Build(ctx context.Context, version string) (*mapping.Dataset, error) {
	<-g.release
	return g.inner.Build(ctx, version)
}

type fixture struct {
	svc   *Service
	store *store.Store
	dir   *source.Dir
}

func newFixture(t *testing.T, wrap func(cache.Builder) cache.Builder, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	writeVersion(t, root, "1.7.10", "oldX")
	writeVersion(t, root, "1.12.2", "minX")

	st, err := store.Open(filepath.Join(t.TempDir(), "namelens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := source.NewDir(root)
	var b cache.Builder = mapping.NewBuilder(dir)
	if wrap != nil {
		b = wrap(b)
	}
	c := cache.New(b, cache.WithVersionLister(dir), cache.WithBuildHook(RecordBuilds(st)))
	t.Cleanup(func() { drain(c) })
	return &fixture{svc: New(c, st, dir, opts...), store: st, dir: dir}
}

// drain lets queued build history reach the store before it closes.
func drain(c *cache.Cache) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Drain(ctx)
}

func TestLookup_ExplicitVersion(t *testing.T) {
	fx := newFixture(t, nil)

	res, err := fx.svc.Lookup(context.Background(), Request{Type: mapping.TypeField, Name: "oldX", Version: "1.7.10"})
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assert.Equal(t, "1.7.10", res.Version)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "field_1_x", res.Records[0].Intermediate)
}

func TestLookup_VersionResolutionOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	// No default: latest.
	res, err := fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "field_1", Guild: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "1.12.2", res.Version)
	assert.Equal(t, "minX", res.Records[0].Name())

	// Guild default wins over latest.
	require.NoError(t, fx.svc.SetDefault(ctx, "g1", "1.7.10"))
	res, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "field_1", Guild: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "1.7.10", res.Version)
	assert.Equal(t, "oldX", res.Records[0].Name())

	// Other guilds are unaffected.
	res, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "field_1", Guild: "g2"})
	require.NoError(t, err)
	assert.Equal(t, "1.12.2", res.Version)

	// Explicit version wins over the default.
	res, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "field_1", Guild: "g1", Version: "1.12.2"})
	require.NoError(t, err)
	assert.Equal(t, "1.12.2", res.Version)
}

func TestSetDefault(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	v, ok, err := fx.svc.Default(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, cache.Latest, v)

	require.NoError(t, fx.svc.SetDefault(ctx, "g1", "1.7.10"))
	v, ok, err = fx.svc.Default(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.7.10", v)

	err = fx.svc.SetDefault(ctx, "g1", "99.99")
	assert.ErrorIs(t, err, ErrInvalidVersion)
	v, _, _ = fx.svc.Default(ctx, "g1")
	assert.Equal(t, "1.7.10", v, "rejected version must not replace the default")

	require.NoError(t, fx.svc.SetDefault(ctx, "g2", "1.12.2"))
	defaults, err := fx.svc.ListDefaults(ctx)
	require.NoError(t, err)
	require.Len(t, defaults, 2)
	assert.Equal(t, "g1", defaults[0].Guild)
	assert.Equal(t, "1.12.2", defaults[1].Version)

	// latest clears the default.
	require.NoError(t, fx.svc.SetDefault(ctx, "g1", cache.Latest))
	_, ok, err = fx.svc.Default(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := fx.svc.ClearDefault(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLookup_Errors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	_, err := fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "  "})
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "minX", Version: "99.99"})
	var nsv *mapping.NoSuchVersionError
	require.ErrorAs(t, err, &nsv)
	assert.Equal(t, "99.99", nsv.Version)
}

func TestLookup_PendingBuild(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, func(b cache.Builder) cache.Builder {
		return &gatedBuilder{inner: b, release: release}
	}, WithWait(10*time.Millisecond))

	res, err := fx.svc.Lookup(context.Background(), Request{Type: mapping.TypeField, Name: "minX", Version: "1.12.2"})
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.Nil(t, res.Records)

	close(release)
	require.NoError(t, res.Wait(context.Background()))
	assert.False(t, res.Pending)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "1.12.2", res.Version)
	assert.NotNil(t, res.Dataset)
}

func TestLookup_RecordsBuildHistory(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	_, err := fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "minX", Version: "1.12.2"})
	require.NoError(t, err)
	_, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "minX", Version: "99.99"})
	require.Error(t, err)
	require.NoError(t, fx.svc.Cache().Drain(ctx))

	builds, err := fx.store.ListBuilds(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, builds, 2)

	failed := builds[0]
	assert.Equal(t, "99.99", failed.Version)
	assert.Equal(t, store.OutcomeNoSuchVersion, failed.Outcome)
	assert.NotEmpty(t, failed.Error)

	built := builds[1]
	assert.Equal(t, store.OutcomeOK, built.Outcome)
	assert.Equal(t, store.BuildKindBuild, built.Kind)
	assert.NotEmpty(t, built.BuildID)
	assert.Equal(t, 1, built.Records["field"])
	assert.Equal(t, 2, built.Owners)
}

func TestFormatRecords(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.svc.Lookup(ctx, Request{Type: mapping.TypeMethod, Name: "BlockPos.getX", Version: "1.12.2"})
	require.NoError(t, err)
	out := FormatRecords(res.Dataset, res.Records)
	assert.Equal(t, "MC 1.12.2: net/example/BlockPos.getX\n"+
		"Name: func_2_a => getX\n"+
		"Descriptor: ()I\n"+
		"Side: client\n", out)

	res, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeField, Name: "nothing", Version: "1.12.2"})
	require.NoError(t, err)
	assert.Equal(t, NoResults+"\n", FormatRecords(res.Dataset, res.Records))

	res, err = fx.svc.Lookup(ctx, Request{Type: mapping.TypeParam, Name: "amount", Version: "1.12.2"})
	require.NoError(t, err)
	assert.Contains(t, FormatRecords(res.Dataset, res.Records), "MC 1.12.2: func_2_a.amount\n")
}
