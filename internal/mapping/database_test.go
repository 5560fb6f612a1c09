package mapping

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Build(context.Background(), testSource(t))
	require.NoError(t, err)
	return ds
}

func intermediates(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Intermediate)
	}
	return out
}

func TestBuild_ParsesAllCategories(t *testing.T) {
	ds := buildTestDataset(t)

	stats := ds.Stats()
	assert.Equal(t, "1.12.2", stats.Version)
	assert.Equal(t, 3, stats.Records[TypeField])
	assert.Equal(t, 4, stats.Records[TypeMethod])
	assert.Equal(t, 2, stats.Records[TypeParam])
	assert.Equal(t, 0, stats.Records[TypeClass])
	assert.Equal(t, 6, stats.Owners)
	assert.NotEmpty(t, ds.BuildID())
	assert.False(t, ds.BuiltAt().IsZero())
}

func TestLookup_OfficialNameExactMatch(t *testing.T) {
	ds := buildTestDataset(t)

	recs := ds.Lookup(TypeField, "minX")
	require.Len(t, recs, 1)
	assert.Equal(t, "field_1_x", recs[0].Intermediate)
	require.NotNil(t, recs[0].Official)
	assert.Equal(t, "minX", *recs[0].Official)
	require.NotNil(t, recs[0].Comment)
	assert.Equal(t, "the min x", *recs[0].Comment)
	assert.Equal(t, SideClient, recs[0].Side)
}

func TestLookup_OfficialNameIsNotSubstringMatched(t *testing.T) {
	ds := buildTestDataset(t)

	assert.Empty(t, ds.Lookup(TypeField, "min"))
}

func TestLookup_IntermediateSubstring(t *testing.T) {
	ds := buildTestDataset(t)

	assert.Equal(t, []string{"func_100_a"}, intermediates(ds.Lookup(TypeMethod, "100")))
	assert.Equal(t, []string{"field_1_x", "field_2_y", "field_3_z"}, intermediates(ds.Lookup(TypeField, "field_")))
}

func TestLookup_CommentWithCommas(t *testing.T) {
	ds := buildTestDataset(t)

	recs := ds.Lookup(TypeField, "field_3_z")
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Official)
	assert.Equal(t, "field_3_z", recs[0].Name())
	require.NotNil(t, recs[0].Comment)
	assert.Equal(t, "a comment, with commas, inside", *recs[0].Comment)
	assert.Equal(t, SideServer, recs[0].Side)
}

func TestLookup_EmptyCommentIsNil(t *testing.T) {
	ds := buildTestDataset(t)

	recs := ds.Lookup(TypeField, "minY")
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Comment)
	assert.Equal(t, SideBoth, recs[0].Side)
}

func TestLookup_OwnerFilter(t *testing.T) {
	ds := buildTestDataset(t)

	all := ds.Lookup(TypeMethod, "getX")
	assert.Equal(t, []string{"func_100_a", "func_200_b", "method_2_x"}, intermediates(all))

	byPos := ds.Lookup(TypeMethod, "BlockPos.getX")
	assert.Equal(t, []string{"method_2_x"}, intermediates(byPos))

	byPackage := ds.Lookup(TypeMethod, "example/Vec3d.getX")
	assert.Equal(t, []string{"func_100_a"}, intermediates(byPackage))

	assert.Empty(t, ds.Lookup(TypeMethod, "Missing.getX"))
}

func TestLookup_OwnerFilterNarrows(t *testing.T) {
	ds := buildTestDataset(t)

	queries := []struct {
		typ   Type
		owner string
		name  string
	}{
		{TypeMethod, "BlockPos", "getX"},
		{TypeMethod, "Entity", "func_"},
		{TypeField, "AxisAlignedBB", "field_"},
		{TypeField, "Nope", "minX"},
	}
	for _, q := range queries {
		t.Run(q.owner+"."+q.name, func(t *testing.T) {
			broad := intermediates(ds.Lookup(q.typ, q.name))
			narrow := intermediates(ds.Lookup(q.typ, q.owner+"."+q.name))
			assert.Subset(t, broad, narrow)
		})
	}
}

func TestLookup_UnknownOwnerFailsFilter(t *testing.T) {
	ds := buildTestDataset(t)

	// func_300_c has no owner row.
	assert.Len(t, ds.Lookup(TypeMethod, "func_300_c"), 1)
	assert.Empty(t, ds.Lookup(TypeMethod, "Anything.func_300_c"))
}

func TestLookup_FirstOwnerIsAuthoritative(t *testing.T) {
	ds := buildTestDataset(t)

	assert.Empty(t, ds.Lookup(TypeMethod, "Other.method_2_x"))
	assert.Len(t, ds.Lookup(TypeMethod, "BlockPos.method_2_x"), 1)
}

func TestLookup_ParamsIgnoreOwnerHint(t *testing.T) {
	ds := buildTestDataset(t)

	plain := ds.Lookup(TypeParam, "x")
	hinted := ds.Lookup(TypeParam, "Whatever.x")
	assert.Equal(t, intermediates(plain), intermediates(hinted))
	assert.Equal(t, []string{"p_100_1_"}, intermediates(hinted))
}

func TestLookup_Deterministic(t *testing.T) {
	ds := buildTestDataset(t)

	first := ds.Lookup(TypeMethod, "getX")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ds.Lookup(TypeMethod, "getX"))
	}
}

func TestLookup_ClassHasNoRecords(t *testing.T) {
	ds := buildTestDataset(t)

	assert.Empty(t, ds.Lookup(TypeClass, "BlockPos"))
}

func TestBuild_LinksDescriptorsAndParamOwners(t *testing.T) {
	ds := buildTestDataset(t)

	field := ds.Lookup(TypeField, "minX")
	require.Len(t, field, 1)
	require.NotNil(t, field[0].Descriptor)
	assert.Equal(t, "D", *field[0].Descriptor)

	noDesc := ds.Lookup(TypeField, "minY")
	require.Len(t, noDesc, 1)
	assert.Nil(t, noDesc[0].Descriptor)

	params := ds.Lookup(TypeParam, "p_")
	require.Len(t, params, 2)
	require.NotNil(t, params[0].OwnerHint)
	assert.Equal(t, "func_100_a", *params[0].OwnerHint)
	assert.Nil(t, params[1].OwnerHint, "constructor params have no method owner")

	assert.Equal(t, "net/example/BlockPos", ds.Owner(ds.Lookup(TypeMethod, "method_2_x")[0]))
}

func TestBuild_MissingArchiveIsNoSuchVersion(t *testing.T) {
	src := testSource(t)
	src.Version = "99.99"
	src.Mappings = filepath.Join(t.TempDir(), "missing.zip")

	_, err := Build(context.Background(), src)
	require.Error(t, err)
	var nsv *NoSuchVersionError
	require.ErrorAs(t, err, &nsv)
	assert.Equal(t, "99.99", nsv.Version)
}

func TestBuild_MissingOwnersIsNoSuchVersion(t *testing.T) {
	src := testSource(t)
	src.Owners = ""

	_, err := Build(context.Background(), src)
	assert.True(t, IsNoSuchVersion(err))
}

func TestBuild_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		entry  string
		line   int
	}{
		{"side out of range", "h\nfield_1_x,minX,3,\n", "fields.csv", 2},
		{"side not a number", "h\nfield_1_x,minX,client,\n", "fields.csv", 2},
		{"too few fields", "h\nfield_1_x,minX\n", "fields.csv", 2},
		{"negative side", "h\nfield_1_x,minX,0,\nfield_2_y,minY,-1,\n", "fields.csv", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := Source{
				Version: "1.0",
				Mappings: writeZip(t, dir, map[string]string{
					"fields.csv":  tt.fields,
					"methods.csv": methodsCSV,
					"params.csv":  paramsCSV,
				}),
				Owners: writeFile(t, dir, "owners.csv", ownersCSV),
			}

			_, err := Build(context.Background(), src)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.entry, pe.Entry)
			assert.Equal(t, tt.line, pe.Line)
			assert.Equal(t, "1.0", pe.Version)
		})
	}
}

func TestBuild_MissingEntryIsParseError(t *testing.T) {
	dir := t.TempDir()
	src := Source{
		Version:  "1.0",
		Mappings: writeZip(t, dir, map[string]string{"fields.csv": fieldsCSV}),
		Owners:   writeFile(t, dir, "owners.csv", ownersCSV),
	}

	_, err := Build(context.Background(), src)
	assert.True(t, IsParseError(err))
}

func TestBuild_NestedEntriesAndCRLF(t *testing.T) {
	dir := t.TempDir()
	src := Source{
		Version: "1.0",
		Mappings: writeZip(t, dir, map[string]string{
			"mcp/fields.csv":  "searge,name,side,desc\r\nfield_9_q,quux,2,crlf\r\n",
			"mcp/methods.csv": methodsCSV,
			"mcp/params.csv":  paramsCSV,
		}),
		Owners: writeFile(t, dir, "owners.csv", ownersCSV),
	}

	ds, err := Build(context.Background(), src)
	require.NoError(t, err)
	recs := ds.Lookup(TypeField, "quux")
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Comment)
	assert.Equal(t, "crlf", *recs[0].Comment)
}

func TestBuilder_UsesFetcher(t *testing.T) {
	src := testSource(t)
	src.Version = ""
	fetcher := fetcherFunc(func(ctx context.Context, version string) (Source, error) {
		if version != "1.12.2" {
			return Source{}, &NoSuchVersionError{Version: version}
		}
		return src, nil
	})

	ds, err := NewBuilder(fetcher).Build(context.Background(), "1.12.2")
	require.NoError(t, err)
	assert.Equal(t, "1.12.2", ds.Version())

	_, err = NewBuilder(fetcher).Build(context.Background(), "2.0")
	assert.True(t, IsNoSuchVersion(err))
}

type fetcherFunc func(ctx context.Context, version string) (Source, error)

func (f fetcherFunc) Fetch(ctx context.Context, version string) (Source, error) {
	return f(ctx, version)
}
