package pvstore_test

import (
	"path/filepath"
	"testing"

	"github.com/oda/pagevault/internal/pvio"
	"github.com/oda/pagevault/internal/pvpage"
	"github.com/oda/pagevault/internal/pvstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cf")
	dev, err := pvio.Open(path, pvpage.ChapterSize, false)
	require.NoError(t, err)
	defer dev.Close()

	page0 := pvpage.EncodeFileHeader(pvpage.FileHeader{Version: pvpage.CurrentVersion, FirstFreePage: 1})
	page0[0] = 'X'
	pvpage.RecomputeCRC(page0)
	_, err = dev.WriteAt(page0, 0)
	require.NoError(t, err)

	_, err = pvstore.Open(dev, pvstore.Options{}, zerolog.Nop())
	require.ErrorIs(t, err, pvstore.ErrCorruptData)
}

func TestOpenRejectsFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cf")
	dev, err := pvio.Open(path, pvpage.ChapterSize, false)
	require.NoError(t, err)
	defer dev.Close()

	page0 := pvpage.EncodeFileHeader(pvpage.FileHeader{Version: pvpage.CurrentVersion + 1, FirstFreePage: 1})
	_, err = dev.WriteAt(page0, 0)
	require.NoError(t, err)

	_, err = pvstore.Open(dev, pvstore.Options{}, zerolog.Nop())
	require.ErrorIs(t, err, pvstore.ErrUnsupportedVersion)
}

func TestOpenRejectsBadCRC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cf")
	dev, err := pvio.Open(path, pvpage.ChapterSize, false)
	require.NoError(t, err)
	defer dev.Close()

	page0 := pvpage.EncodeFileHeader(pvpage.FileHeader{Version: pvpage.CurrentVersion, FirstFreePage: 1})
	page0[4092] ^= 0xFF
	_, err = dev.WriteAt(page0, 0)
	require.NoError(t, err)

	_, err = pvstore.Open(dev, pvstore.Options{}, zerolog.Nop())
	require.ErrorIs(t, err, pvstore.ErrCorruptData)
}

func TestOpenRejectsBadFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cf")
	dev, err := pvio.Open(path, pvpage.ChapterSize+1, false)
	require.NoError(t, err)
	defer dev.Close()

	_, err = pvstore.Open(dev, pvstore.Options{}, zerolog.Nop())
	require.ErrorIs(t, err, pvstore.ErrCorruptData)
}
