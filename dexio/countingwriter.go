package dexio

import (
	"fmt"
	"hash/crc32"
	"io"
)

//
// CountingWriter passes bytes through to a sink while keeping a running
// byte count and CRC-32, so an archive producer can report an entry's
// uncompressed size and checksum right after streaming it, without
// buffering the entry.
//

const (
	copyBufferStart = 2048
	copyBufferStep  = 500
	copyBufferMax   = 4096 * 20
)

type CountingWriter struct {
	w      io.Writer
	crc    uint32
	useCRC bool
	size   int64
	closed bool
}

func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w, useCRC: true}
}

// NewCountingWriterNoCRC counts bytes only.
func NewCountingWriterNoCRC(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

// DisableCRC turns the checksum accumulator off or back on. Turning it
// back on starts a fresh checksum.
func (c *CountingWriter) DisableCRC(disable bool) {
	if disable {
		c.useCRC = false
		c.crc = 0
		return
	}
	if !c.useCRC {
		c.useCRC = true
		c.crc = 0
	}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.w.Write(p)
	if n > 0 {
		c.size += int64(n)
		if c.useCRC {
			c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
		}
	}
	return n, err
}

// ReadFrom implements io.ReaderFrom, copying src with a buffer that grows
// as the stream proves to be long.
func (c *CountingWriter) ReadFrom(src io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, copyBufferStart)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := c.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			if written != n {
				return total, io.ErrShortWrite
			}
			if len(buf) < copyBufferMax {
				buf = make([]byte, len(buf)+copyBufferStep)
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Reset zeroes the size and checksum; the sink is untouched.
func (c *CountingWriter) Reset() {
	c.size = 0
	c.crc = 0
}

func (c *CountingWriter) Size() int64 { return c.size }

// CRC32 returns the checksum so far, or 0 when the accumulator is off.
func (c *CountingWriter) CRC32() uint32 {
	if !c.useCRC {
		return 0
	}
	return c.crc
}

func (c *CountingWriter) Writer() io.Writer { return c.w }

func (c *CountingWriter) Flush() error {
	if f, ok := c.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (c *CountingWriter) Close() error {
	c.closed = true
	if cl, ok := c.w.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *CountingWriter) IsOpen() bool { return !c.closed }

func (c *CountingWriter) String() string {
	return fmt.Sprintf("[%d]: %T", c.size, c.w)
}
