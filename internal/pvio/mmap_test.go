package pvio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oda/pagevault/internal/pvio"
	"github.com/stretchr/testify/require"
)

func TestOpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 4096, false)
	require.NoError(t, err)
	defer m.Close()

	require.EqualValues(t, 4096, m.Size())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 4096, info.Size())
}

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 4096, false)
	require.NoError(t, err)

	n, err := m.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	m2, err := pvio.Open(path, 4096, false)
	require.NoError(t, err)
	defer m2.Close()

	buf := make([]byte, 5)
	_, err = m2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestReadWriteOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 4096, false)
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, 50)
	_, err = m.ReadAt(buf, 4080)
	require.Error(t, err)

	_, err = m.ReadAt(buf, -1)
	require.Error(t, err)

	_, err = m.WriteAt(buf, 4080)
	require.Error(t, err)

	_, err = m.WriteAt(buf, -1)
	require.Error(t, err)
}

func TestTruncateGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 4096, false)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	require.NoError(t, m.Truncate(8192))
	require.EqualValues(t, 8192, m.Size())

	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 8192, info.Size())
}

func TestTruncateShrinkIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 8192, false)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Truncate(4096))
	require.EqualValues(t, 8192, m.Size())
}

func TestWriteThroughOpensWithSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := pvio.Open(path, 4096, true)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
}
