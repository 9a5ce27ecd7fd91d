package pvstore

import (
	"fmt"

	"github.com/oda/pagevault/internal/pvpage"
)

// Write overwrites a stream from its head with data, trimming any pages
// left over from a longer prior write.
func (e *Engine) Write(handle uint32, data []byte) error {
	if err := e.validateHandle(handle, true); err != nil {
		return err
	}

	ix := handle
	remaining := int64(len(data))
	pos := int64(0)

	for {
		buf, err := e.readPage(ix)
		if err != nil {
			return err
		}
		hdr := pvpage.ReadHeader(buf)

		n := remaining
		if n > pvpage.DataSize {
			n = pvpage.DataSize
		}
		copy(pvpage.Data(buf), data[pos:pos+n])

		link := hdr.Link
		more := remaining-n > 0
		if more {
			if link == 0 {
				next, err := e.allocatePage()
				if err != nil {
					return err
				}
				link = next
			}
		} else if link != 0 {
			if err := e.freeChain(link); err != nil {
				return err
			}
			link = 0
		}

		pvpage.WriteHeader(buf, pvpage.Header{Status: pvpage.StatusAllocated, Link: link, Length: uint32(remaining)})
		pvpage.RecomputeCRC(buf)
		if err := e.writePage(ix, buf); err != nil {
			return err
		}

		remaining -= n
		pos += n
		if remaining <= 0 {
			break
		}
		ix = link
	}

	return nil
}

// WriteAt overwrites or extends a stream at an arbitrary byte offset. It
// never trims: the stream only grows or is overwritten in place.
func (e *Engine) WriteAt(handle uint32, position uint32, data []byte) error {
	if err := e.validateHandle(handle, true); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	headBuf, err := e.readPage(handle)
	if err != nil {
		return err
	}
	headHdr := pvpage.ReadHeader(headBuf)

	end := uint64(position) + uint64(len(data))
	newLength := headHdr.Length
	if end > uint64(newLength) {
		if end > uint64(^uint32(0)) {
			return fmt.Errorf("%w: stream length %d exceeds 32 bits", ErrOutOfRange, end)
		}
		newLength = uint32(end)
	}
	headHdr.Length = newLength
	pvpage.WriteHeader(headBuf, headHdr)
	pvpage.RecomputeCRC(headBuf)
	if err := e.writePage(handle, headBuf); err != nil {
		return err
	}

	hops := position / pvpage.DataSize
	within := int(position % pvpage.DataSize)

	ix := handle
	for i := uint32(0); i < hops; i++ {
		buf, err := e.readPage(ix)
		if err != nil {
			return err
		}
		hdr := pvpage.ReadHeader(buf)
		next := hdr.Link
		if next == 0 {
			next, err = e.allocatePage()
			if err != nil {
				return err
			}
			pvpage.WriteLink(buf, next)
			pvpage.RecomputeCRC(buf)
			if err := e.writePage(ix, buf); err != nil {
				return err
			}
		}
		ix = next
	}

	pos := 0
	remaining := len(data)
	for remaining > 0 {
		buf, err := e.readPage(ix)
		if err != nil {
			return err
		}
		hdr := pvpage.ReadHeader(buf)

		space := pvpage.DataSize - within
		n := remaining
		if n > space {
			n = space
		}
		copy(pvpage.Data(buf)[within:within+n], data[pos:pos+n])

		link := hdr.Link
		pos += n
		remaining -= n
		within = 0

		if remaining > 0 && link == 0 {
			link, err = e.allocatePage()
			if err != nil {
				return err
			}
		}

		pvpage.WriteHeader(buf, pvpage.Header{Status: pvpage.StatusAllocated, Link: link, Length: hdr.Length})
		pvpage.RecomputeCRC(buf)
		if err := e.writePage(ix, buf); err != nil {
			return err
		}

		if remaining > 0 {
			ix = link
		}
	}

	return nil
}

// ReadAll returns a fresh copy of a stream's entire content.
func (e *Engine) ReadAll(handle uint32) ([]byte, error) {
	if err := e.validateHandle(handle, true); err != nil {
		return nil, err
	}

	headBuf, err := e.readPage(handle)
	if err != nil {
		return nil, err
	}
	hdr := pvpage.ReadHeader(headBuf)
	length := hdr.Length
	if length == 0 {
		return []byte{}, nil
	}

	out := make([]byte, length)
	buf := headBuf
	pos := 0
	remaining := int(length)

	for {
		if e.opts.VerifyOnRead && !pvpage.VerifyCRC(buf) {
			e.log.Warn().Uint32("handle", handle).Msg("crc mismatch during verify-on-read")
			return nil, fmt.Errorf("%w: page crc mismatch", ErrCorruptData)
		}

		h := pvpage.ReadHeader(buf)
		n := remaining
		if n > pvpage.DataSize {
			n = pvpage.DataSize
		}
		copy(out[pos:pos+n], pvpage.Data(buf)[:n])
		pos += n
		remaining -= n
		if remaining <= 0 {
			break
		}

		buf, err = e.readPage(h.Link)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ReadAt fills buf from a stream at an arbitrary byte offset, returning
// the number of bytes actually read (0 if srcOff is at or past the end of
// the stream).
func (e *Engine) ReadAt(handle uint32, buf []byte, srcOff uint32) (int, error) {
	if err := e.validateHandle(handle, true); err != nil {
		return 0, err
	}

	headBuf, err := e.readPage(handle)
	if err != nil {
		return 0, err
	}
	hdr := pvpage.ReadHeader(headBuf)
	length := hdr.Length

	if uint64(srcOff) >= uint64(length) {
		return 0, nil
	}

	count := len(buf)
	avail := int(length) - int(srcOff)
	if count > avail {
		count = avail
	}

	hops := srcOff / pvpage.DataSize
	within := int(srcOff % pvpage.DataSize)

	ix := handle
	cur := headBuf
	for i := uint32(0); i < hops; i++ {
		h := pvpage.ReadHeader(cur)
		if h.Link == 0 {
			return 0, fmt.Errorf("%w: stream chain shorter than recorded length", ErrCorruptData)
		}
		ix = h.Link
		cur, err = e.readPage(ix)
		if err != nil {
			return 0, err
		}
	}

	pos := 0
	remaining := count
	for remaining > 0 {
		h := pvpage.ReadHeader(cur)
		space := pvpage.DataSize - within
		n := remaining
		if n > space {
			n = space
		}
		copy(buf[pos:pos+n], pvpage.Data(cur)[within:within+n])
		pos += n
		remaining -= n
		within = 0

		if remaining > 0 {
			if h.Link == 0 {
				return pos, fmt.Errorf("%w: stream chain shorter than recorded length", ErrCorruptData)
			}
			cur, err = e.readPage(h.Link)
			if err != nil {
				return pos, err
			}
		}
	}

	return count, nil
}

// GetLength returns a stream's head-recorded byte length.
func (e *Engine) GetLength(handle uint32) (uint32, error) {
	if err := e.validateHandle(handle, true); err != nil {
		return 0, err
	}
	buf, err := e.readPage(handle)
	if err != nil {
		return 0, err
	}
	return pvpage.ReadHeader(buf).Length, nil
}

// ValidateCRC scans every page in the backing file and reports whether
// every stored crc matches its content.
func (e *Engine) ValidateCRC() (bool, error) {
	total := e.TotalPages()
	for ix := uint64(0); ix < total; ix++ {
		buf, err := e.readPage(uint32(ix))
		if err != nil {
			return false, err
		}
		if !pvpage.VerifyCRC(buf) {
			e.log.Warn().Uint64("page", ix).Msg("crc mismatch during validate")
			return false, nil
		}
	}
	return true, nil
}
