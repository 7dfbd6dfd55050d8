package jar

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/nbtspec/internal/cftest"
)

func writeTestJar(t *testing.T) string {
	t.Helper()

	class := cftest.NewClass("com/example/Thing", "java/lang/Object").Bytes()

	path := filepath.Join(t.TempDir(), "test.jar")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	zw := zip.NewWriter(file)
	entry, err := zw.Create("com/example/Thing.class")
	require.NoError(t, err)
	_, err = entry.Write(class)
	require.NoError(t, err)

	// non-class entries are ignored
	other, err := zw.Create("assets/lang/en_us.json")
	require.NoError(t, err)
	_, err = other.Write([]byte("{}"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return path
}

func TestLoaderResolvesClasses(t *testing.T) {
	loader, err := Open(writeTestJar(t))
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, 1, loader.Count())

	cf, err := loader.Load("com/example/Thing")
	require.NoError(t, err)
	assert.Equal(t, "com/example/Thing", cf.ThisClass)
	assert.Equal(t, "java/lang/Object", cf.SuperClass)

	// cached instance is returned on the second lookup
	again, err := loader.Load("com/example/Thing")
	require.NoError(t, err)
	assert.Same(t, cf, again)
}

func TestLoaderReportsMissingClasses(t *testing.T) {
	loader, err := Open(writeTestJar(t))
	require.NoError(t, err)
	defer loader.Close()

	_, err = loader.Load("com/example/Absent")
	assert.ErrorIs(t, err, ErrClassNotFound)

	// negative result is cached, the error stays stable
	_, err = loader.Load("com/example/Absent")
	assert.ErrorIs(t, err, ErrClassNotFound)
}
