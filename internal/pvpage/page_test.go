package pvpage_test

import (
	"testing"

	"github.com/oda/pagevault/internal/pvpage"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, pvpage.Size)
	pvpage.WriteHeader(buf, pvpage.Header{Status: pvpage.StatusAllocated, Link: 42, Length: 1000})
	pvpage.RecomputeCRC(buf)

	require.True(t, pvpage.VerifyCRC(buf))

	h := pvpage.ReadHeader(buf)
	require.Equal(t, pvpage.StatusAllocated, h.Status)
	require.EqualValues(t, 42, h.Link)
	require.EqualValues(t, 1000, h.Length)
}

func TestWriteLinkRequiresRecompute(t *testing.T) {
	buf := pvpage.NewFreePage(7)
	require.True(t, pvpage.VerifyCRC(buf))

	pvpage.WriteLink(buf, 99)
	require.False(t, pvpage.VerifyCRC(buf), "crc must go stale until recomputed")

	pvpage.RecomputeCRC(buf)
	require.True(t, pvpage.VerifyCRC(buf))
	require.EqualValues(t, 99, pvpage.ReadHeader(buf).Link)
}

func TestCorruptByteFailsVerify(t *testing.T) {
	buf := pvpage.NewFreePage(0)
	require.True(t, pvpage.VerifyCRC(buf))

	buf[pvpage.Size/2] ^= 0xFF
	require.False(t, pvpage.VerifyCRC(buf))
}

func TestDataRegionSize(t *testing.T) {
	buf := make([]byte, pvpage.Size)
	require.Len(t, pvpage.Data(buf), pvpage.DataSize)
}

func TestFileHeaderRoundTrip(t *testing.T) {
	buf := pvpage.EncodeFileHeader(pvpage.FileHeader{
		Version:       pvpage.CurrentVersion,
		PageSize:      pvpage.Size,
		ChapterSize:   pvpage.ChapterPages,
		FirstFreePage: 1,
	})

	require.True(t, pvpage.ValidMagic(buf))
	require.True(t, pvpage.VerifyCRC(buf))

	h := pvpage.DecodeFileHeader(buf)
	require.EqualValues(t, pvpage.CurrentVersion, h.Version)
	require.EqualValues(t, 1, h.FirstFreePage)
}

func TestFileHeaderBadMagic(t *testing.T) {
	buf := pvpage.EncodeFileHeader(pvpage.FileHeader{Version: pvpage.CurrentVersion, FirstFreePage: 1})
	copy(buf[:5], "NOPE!")
	pvpage.RecomputeCRC(buf)

	require.False(t, pvpage.ValidMagic(buf))
}

func TestSetFirstFreePage(t *testing.T) {
	buf := pvpage.EncodeFileHeader(pvpage.FileHeader{Version: pvpage.CurrentVersion, FirstFreePage: 1})

	pvpage.SetFirstFreePage(buf, 500)
	pvpage.RecomputeCRC(buf)

	require.EqualValues(t, 500, pvpage.DecodeFileHeader(buf).FirstFreePage)
}
