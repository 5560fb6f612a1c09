package mapping

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSrgDatabase_IndexesByTypeAndName(t *testing.T) {
	db, err := NewSrgDatabase("1.0", "owners.csv", []byte(ownersCSV))
	require.NoError(t, err)

	assert.Equal(t, 6, db.Len())
	owners := db.Lookup(TypeMethod, "method_2_x")
	require.Len(t, owners, 2)
	assert.Equal(t, "net/example/BlockPos", owners[0].Owner)
	assert.Equal(t, "net/example/Other", owners[1].Owner)
	assert.Equal(t, "net/example/BlockPos", db.Owner(TypeMethod, "method_2_x"))

	// Same name under another type is a different key.
	assert.Empty(t, db.Lookup(TypeField, "method_2_x"))
	assert.Equal(t, "", db.Owner(TypeField, "field_404_q"))
}

func TestNewSrgDatabase_SkipsCommentsAndBlankLines(t *testing.T) {
	data := "# owner table\n\n  field_1_x ,  a/B  \nnet/example/Foo,net/example/Foo\n"
	db, err := NewSrgDatabase("1.0", "owners.csv", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, "a/B", db.Owner(TypeField, "field_1_x"))
	assert.Equal(t, "net/example/Foo", db.Owner(TypeClass, "net/example/Foo"))
}

func TestNewSrgDatabase_RejectsShortRows(t *testing.T) {
	_, err := NewSrgDatabase("1.0", "owners.csv", []byte("field_1_x,a/B\nfield_2_y\n"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, "owners.csv", pe.Entry)
}

func TestNilSrgDatabase(t *testing.T) {
	var db *SrgDatabase
	assert.Empty(t, db.Lookup(TypeMethod, "x"))
	assert.Equal(t, 0, db.Len())
}

func TestBuildSrgDatabase_Gzipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(ownersCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	db, err := BuildSrgDatabase(context.Background(), Source{Version: "1.0", Owners: path})
	require.NoError(t, err)
	assert.Equal(t, "net/example/Vec3d", db.Owner(TypeMethod, "func_100_a"))
}

func TestBuildSrgDatabase_FromArchive(t *testing.T) {
	path := writeZip(t, t.TempDir(), map[string]string{"owners.csv": ownersCSV})

	db, err := BuildSrgDatabase(context.Background(), Source{Version: "1.0", Owners: path})
	require.NoError(t, err)
	assert.Equal(t, 6, db.Len())
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"method":  TypeMethod,
		"methods": TypeMethod,
		"m":       TypeMethod,
		"FIELD":   TypeField,
		" p ":     TypeParam,
		"class":   TypeClass,
	}
	for in, want := range tests {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseType("enum")
	assert.Error(t, err)
}

func TestTypeRegistry(t *testing.T) {
	assert.Equal(t, []Type{TypeClass, TypeMethod, TypeField, TypeParam}, Types())
	assert.Empty(t, TypeClass.Info().Entry)
	assert.Equal(t, "fields.csv", TypeField.Info().Entry)
	assert.Equal(t, "unknown", Type(42).String())
	assert.Equal(t, TypeMethod, typeForIntermediate("func_1_a"))
	assert.Equal(t, TypeMethod, typeForIntermediate("method_2_x"))
	assert.Equal(t, TypeParam, typeForIntermediate("p_1_2_"))
	assert.Equal(t, TypeClass, typeForIntermediate("net/example/Foo"))
}
