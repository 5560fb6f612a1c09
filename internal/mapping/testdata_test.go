package mapping

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	fieldsCSV = "searge,name,side,desc\n" +
		"field_1_x,minX,0,the min x\n" +
		"field_2_y,minY,2,\n" +
		"field_3_z,,1,a comment, with commas, inside\n"
	methodsCSV = "searge,name,side,desc\n" +
		"func_100_a,getX,2,returns x\n" +
		"func_200_b,getX,2,\n" +
		"method_2_x,getX,2,\n" +
		"func_300_c,,0,\n"
	paramsCSV = "param,name,side\n" +
		"p_100_1_,x,2\n" +
		"p_i400_1_,pos,2\n"
	ownersCSV = "intermediate,owner,descriptor\n" +
		"field_1_x,net/example/AxisAlignedBB,D\n" +
		"field_2_y,net/example/AxisAlignedBB\n" +
		"func_100_a,net/example/Vec3d,()D\n" +
		"func_200_b,net/example/Entity,()D\n" +
		"method_2_x,net/example/BlockPos,()I\n" +
		"method_2_x,net/example/Other\n"
)

// writeZip writes an archive holding the given entries and returns its path.
func writeZip(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "mappings.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testSource writes a complete, valid version to a temp dir.
func testSource(t *testing.T) Source {
	t.Helper()
	dir := t.TempDir()
	return Source{
		Version: "1.12.2",
		Mappings: writeZip(t, dir, map[string]string{
			"fields.csv":  fieldsCSV,
			"methods.csv": methodsCSV,
			"params.csv":  paramsCSV,
		}),
		Owners: writeFile(t, dir, "owners.csv", ownersCSV),
	}
}
