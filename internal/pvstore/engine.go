// Package pvstore is the paged compound file store's core engine: the
// chapter allocator, free-list manager, stream engine, verifier, and
// lifecycle. It has no locking of its own — pkg/pagevault serializes
// access with a single store-wide mutex and translates the sentinel
// errors here into its typed error taxonomy.
package pvstore

import (
	"fmt"

	"github.com/oda/pagevault/internal/pvio"
	"github.com/oda/pagevault/internal/pvpage"
	"github.com/rs/zerolog"
)

// Options configures engine behavior that is not a property of the
// backing device.
type Options struct {
	// VerifyOnRead validates each page's crc before ReadAll consumes it.
	VerifyOnRead bool
}

// Engine owns a backing BlockDevice and the in-memory file-header
// snapshot (first_free_page, chapter count) derived from it.
type Engine struct {
	dev          pvio.BlockDevice
	opts         Options
	log          zerolog.Logger
	header       pvpage.FileHeader
	chapterCount uint64
}

// Open loads an existing store from dev, or initializes a brand new one
// if dev is empty. The caller has already created dev at whatever initial
// size it likes (0 for "new").
func Open(dev pvio.BlockDevice, opts Options, log zerolog.Logger) (*Engine, error) {
	e := &Engine{dev: dev, opts: opts, log: log}

	size := dev.Size()
	if size == 0 {
		if err := e.initNew(); err != nil {
			return nil, err
		}
		return e, nil
	}

	if size < pvpage.ChapterSize || size%pvpage.ChapterSize != 0 {
		return nil, fmt.Errorf("%w: backing file size %d is not a positive multiple of the chapter size", ErrCorruptData, size)
	}

	page0 := make([]byte, pvpage.Size)
	if _, err := dev.ReadAt(page0, 0); err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}

	if !pvpage.VerifyCRC(page0) {
		return nil, fmt.Errorf("%w: file header crc mismatch", ErrCorruptData)
	}
	if !pvpage.ValidMagic(page0) {
		return nil, fmt.Errorf("%w: bad magic string", ErrCorruptData)
	}

	h := pvpage.DecodeFileHeader(page0)
	if h.Version > pvpage.CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, h.Version)
	}

	e.header = h
	e.chapterCount = uint64(size / pvpage.ChapterSize)
	return e, nil
}

func (e *Engine) initNew() error {
	e.header = pvpage.FileHeader{
		Version:       pvpage.CurrentVersion,
		PageSize:      pvpage.Size,
		ChapterSize:   pvpage.ChapterPages,
		FirstFreePage: 1,
	}
	if err := e.dev.Truncate(0); err != nil {
		return fmt.Errorf("init backing file: %w", err)
	}
	if err := e.addChapter(); err != nil {
		return err
	}
	if err := e.writeHeaderPage(); err != nil {
		return err
	}
	return e.dev.Flush()
}

// Close writes the current header page and flushes it durably. It does
// not close the underlying device — the caller (pkg/pagevault) owns that.
func (e *Engine) Close() error {
	if err := e.writeHeaderPage(); err != nil {
		return err
	}
	return e.dev.Flush()
}

func (e *Engine) writeHeaderPage() error {
	buf := pvpage.EncodeFileHeader(e.header)
	if _, err := e.dev.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}
	return nil
}

// DebugReadPage exposes a raw page read for tests and the verifier's
// callers; it performs no handle validation.
func (e *Engine) DebugReadPage(ix uint32) ([]byte, error) {
	return e.readPage(ix)
}

func (e *Engine) readPage(ix uint32) ([]byte, error) {
	buf := make([]byte, pvpage.Size)
	if _, err := e.dev.ReadAt(buf, int64(ix)*pvpage.Size); err != nil {
		return nil, fmt.Errorf("read page %d: %w", ix, err)
	}
	return buf, nil
}

func (e *Engine) writePage(ix uint32, buf []byte) error {
	if _, err := e.dev.WriteAt(buf, int64(ix)*pvpage.Size); err != nil {
		return fmt.Errorf("write page %d: %w", ix, err)
	}
	return nil
}

// TotalPages returns the number of pages addressable in the backing file,
// including page 0.
func (e *Engine) TotalPages() uint64 {
	return e.chapterCount * pvpage.ChapterPages
}

// ChapterCount returns the number of chapters the backing file currently
// holds.
func (e *Engine) ChapterCount() uint64 {
	return e.chapterCount
}

// FirstFreePage returns the current head of the free-list.
func (e *Engine) FirstFreePage() uint32 {
	return e.header.FirstFreePage
}

// addChapter appends one fully initialized free-page chapter to the
// backing file. It does not write the file header — callers do that as
// part of a larger operation.
func (e *Engine) addChapter() error {
	newChapterCount := e.chapterCount + 1
	if newChapterCount*pvpage.ChapterPages >= pvpage.MaxPages {
		return fmt.Errorf("%w: would exceed %d total pages", ErrOutOfSpace, pvpage.MaxPages)
	}

	base := e.chapterCount * pvpage.ChapterPages
	buf := make([]byte, pvpage.ChapterSize)
	for i := uint64(0); i < pvpage.ChapterPages; i++ {
		page := buf[i*pvpage.Size : (i+1)*pvpage.Size]
		var link uint32
		if i != pvpage.ChapterPages-1 {
			link = uint32(base + i + 1)
		}
		pvpage.WriteHeader(page, pvpage.Header{Status: pvpage.StatusFree, Link: link, Length: 0})
		pvpage.RecomputeCRC(page)
	}

	newSize := int64(newChapterCount) * pvpage.ChapterSize
	if err := e.dev.Truncate(newSize); err != nil {
		return fmt.Errorf("grow backing file: %w", err)
	}
	if _, err := e.dev.WriteAt(buf, int64(base)*pvpage.Size); err != nil {
		return fmt.Errorf("write new chapter: %w", err)
	}

	e.chapterCount = newChapterCount
	e.log.Debug().Uint64("chapter", newChapterCount-1).Uint64("base_page", base).Msg("chapter allocated")
	return nil
}

// allocatePage pops one page off the free-list. When the popped page is
// the last free page (its link is 0), the backing file first grows by a
// chapter and the new chapter's first page becomes the free-list head.
func (e *Engine) allocatePage() (uint32, error) {
	ix := e.header.FirstFreePage
	if ix == 0 {
		return 0, fmt.Errorf("%w: free-list head is zero", ErrCorruptData)
	}

	buf, err := e.readPage(ix)
	if err != nil {
		return 0, err
	}
	hdr := pvpage.ReadHeader(buf)
	next := hdr.Link

	if next == 0 {
		if err := e.addChapter(); err != nil {
			return 0, err
		}
		next = uint32((e.chapterCount - 1) * pvpage.ChapterPages)
	}

	e.header.FirstFreePage = next
	pvpage.WriteHeader(buf, pvpage.Header{Status: pvpage.StatusAllocated, Link: 0, Length: 0})
	pvpage.RecomputeCRC(buf)
	if err := e.writePage(ix, buf); err != nil {
		return 0, err
	}
	if err := e.writeHeaderPage(); err != nil {
		return 0, err
	}
	return ix, nil
}

// freeChain walks the stream chain starting at handle, marks every page
// free, and splices the whole chain onto the head of the free-list in its
// original order.
func (e *Engine) freeChain(handle uint32) error {
	ix := handle
	var last uint32
	for {
		buf, err := e.readPage(ix)
		if err != nil {
			return err
		}
		hdr := pvpage.ReadHeader(buf)
		pvpage.WriteHeader(buf, pvpage.Header{Status: pvpage.StatusFree, Link: hdr.Link, Length: 0})
		pvpage.RecomputeCRC(buf)
		if err := e.writePage(ix, buf); err != nil {
			return err
		}
		if hdr.Link == 0 {
			last = ix
			break
		}
		ix = hdr.Link
	}

	lastBuf, err := e.readPage(last)
	if err != nil {
		return err
	}
	pvpage.WriteLink(lastBuf, e.header.FirstFreePage)
	pvpage.RecomputeCRC(lastBuf)
	if err := e.writePage(last, lastBuf); err != nil {
		return err
	}

	e.header.FirstFreePage = handle
	e.log.Debug().Uint32("handle", handle).Msg("chain freed, spliced onto free-list")
	return e.writeHeaderPage()
}

// Free releases the stream chain starting at handle.
func (e *Engine) Free(handle uint32) error {
	if err := e.validateHandle(handle, true); err != nil {
		return err
	}
	return e.freeChain(handle)
}

func pagesForSize(size uint32) uint64 {
	if size == 0 {
		return 1
	}
	return (uint64(size) + pvpage.DataSize - 1) / pvpage.DataSize
}

// Allocate reserves a chain of pages sized for size bytes and returns its
// handle. The head page's length field is established by the first Write,
// not by Allocate.
func (e *Engine) Allocate(size uint32) (uint32, error) {
	head, err := e.allocatePage()
	if err != nil {
		return 0, err
	}

	prev := head
	for i := uint64(1); i < pagesForSize(size); i++ {
		next, err := e.allocatePage()
		if err != nil {
			return 0, err
		}
		buf, err := e.readPage(prev)
		if err != nil {
			return 0, err
		}
		pvpage.WriteLink(buf, next)
		pvpage.RecomputeCRC(buf)
		if err := e.writePage(prev, buf); err != nil {
			return 0, err
		}
		prev = next
	}

	return head, nil
}

func (e *Engine) validateHandle(handle uint32, requireAllocated bool) error {
	if handle == 0 {
		return ErrInvalidHandle
	}
	if uint64(handle) >= e.TotalPages() {
		return ErrInvalidHandle
	}
	if requireAllocated {
		buf, err := e.readPage(handle)
		if err != nil {
			return err
		}
		if pvpage.ReadHeader(buf).Status != pvpage.StatusAllocated {
			return ErrInvalidHandle
		}
	}
	return nil
}
