// Package bytesource provides random-access reads of a file region into a
// caller buffer. It is the lowest layer of the analysis pipeline: every
// higher component (container, function, lineinfo) goes through a
// ByteSource rather than touching the file descriptor directly, so a
// Binary's resource discipline (§5: one descriptor, released on Close)
// has a single owner.
package bytesource

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"armstatic/analyzerr"
)

// ByteSource is a read-only, random-access view of a file's bytes. It is
// backed by a memory mapping so repeated small reads (symbol tables,
// per-function disassembly windows) do not each pay a syscall.
type ByteSource struct {
	file *os.File
	data mmap.MMap
}

// Open maps path read-only and returns a ByteSource over its full
// contents. The caller must Close the ByteSource when done; Close is
// the sole point at which the underlying descriptor and mapping are
// released (§5 resource discipline).
func Open(path string) (*ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "stat %s", path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, analyzerr.New(analyzerr.TruncatedFile, "%s is empty", path)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "mmap %s", path)
	}

	return &ByteSource{file: f, data: m}, nil
}

// Close releases the mapping and the underlying file descriptor.
func (b *ByteSource) Close() error {
	var unmapErr error
	if b.data != nil {
		unmapErr = b.data.Unmap()
		b.data = nil
	}
	closeErr := b.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}

// Size returns the total mapped length in bytes.
func (b *ByteSource) Size() int64 {
	return int64(len(b.data))
}

// ReadAt reads len(buf) bytes starting at file offset off into buf,
// returning the number of bytes actually copied. A request that runs
// past end-of-file returns a short count and a TruncatedFile error,
// mirroring the teacher's MemoryBuffer.ReadMemory partial-read contract.
func (b *ByteSource) ReadAt(off int64, buf []byte) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, analyzerr.New(analyzerr.TruncatedFile, "offset 0x%x outside file (size 0x%x)", off, len(b.data))
	}

	available := int64(len(b.data)) - off
	toRead := int64(len(buf))
	if toRead > available {
		toRead = available
	}

	copy(buf, b.data[off:off+toRead])

	if toRead < int64(len(buf)) {
		return int(toRead), analyzerr.New(analyzerr.TruncatedFile, "requested %d bytes at 0x%x, only %d available", len(buf), off, toRead)
	}
	return int(toRead), nil
}

// ReadExact reads exactly n bytes at offset off, returning an error if
// fewer are available. This is what container and function disassembly
// use — callers must see the whole region or a hard failure.
func (b *ByteSource) ReadExact(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := b.ReadAt(off, buf)
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}
