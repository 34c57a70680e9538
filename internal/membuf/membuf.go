// Package membuf implements the chunked, append-only, file-backed buffer
// used by the FSA compiler and the value stores while building a segment
// (spec §4.3, "MemoryMapManager").
//
// Each chunk is a fixed-size, memory-mapped temp file. Append-only access
// means random reads only ever need to look at the chunk(s) already
// written, so callers can ask for a direct slice into mapped memory
// ([Manager.QuickAddress]) and fall back to a copy only when a span
// crosses a chunk boundary ([Manager.Buffer]).
package membuf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultChunkSize matches the teacher's habit of picking a single,
// documented constant rather than exposing chunk size as a knob callers
// are likely to get wrong.
const DefaultChunkSize = 32 << 20 // 32 MiB

type chunk struct {
	file *os.File
	data []byte // mmap'd view, length == chunkSize
}

// Manager is a single-writer, append-only buffer backed by fixed-size
// chunk files under a temporary directory. Not safe for concurrent use,
// matching the compiler's single-producer model (spec §5).
type Manager struct {
	dir       string
	chunkSize int

	chunks  []*chunk
	tailLen int   // bytes used in the last chunk
	size    int64 // total logical length across all chunks
}

// New creates a Manager that allocates chunk files under dir (created if
// it does not exist yet) with the given chunkSize. A chunkSize <= 0 selects
// [DefaultChunkSize].
func New(dir string, chunkSize int) (*Manager, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("membuf: create temp dir: %w", err)
	}

	return &Manager{dir: dir, chunkSize: chunkSize}, nil
}

// Size returns the total number of logical bytes appended so far.
func (m *Manager) Size() int64 {
	return m.size
}

// Append writes data at the current tail, allocating new chunks as
// needed, and returns the offset it was written at.
func (m *Manager) Append(data []byte) (int64, error) {
	offset := m.size

	for len(data) > 0 {
		c, err := m.currentChunk()
		if err != nil {
			return 0, err
		}

		room := m.chunkSize - m.tailLen
		n := len(data)
		if n > room {
			n = room
		}

		copy(c.data[m.tailLen:], data[:n])
		m.tailLen += n
		m.size += int64(n)
		data = data[n:]
	}

	return offset, nil
}

// PushBack appends a single byte; the hot path for byte-at-a-time writers
// (spec §4.3).
func (m *Manager) PushBack(b byte) (int64, error) {
	return m.Append([]byte{b})
}

// currentChunk returns the chunk that the next byte should land in,
// allocating a new one if the logical tail is exactly at a chunk
// boundary (including the very first write).
func (m *Manager) currentChunk() (*chunk, error) {
	if len(m.chunks) == 0 || m.tailLen == m.chunkSize {
		return m.allocChunk()
	}

	return m.chunks[len(m.chunks)-1], nil
}

func (m *Manager) allocChunk() (*chunk, error) {
	idx := len(m.chunks)
	path := filepath.Join(m.dir, fmt.Sprintf("chunk-%08d", idx))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("membuf: create chunk file: %w", err)
	}

	if err := f.Truncate(int64(m.chunkSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("membuf: truncate chunk file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, m.chunkSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("membuf: mmap chunk file: %w", err)
	}

	c := &chunk{file: f, data: data}
	m.chunks = append(m.chunks, c)
	m.tailLen = 0

	return c, nil
}

// locate returns which chunk index a logical offset falls in and the
// byte offset within that chunk.
func (m *Manager) locate(offset int64) (int, int) {
	return int(offset / int64(m.chunkSize)), int(offset % int64(m.chunkSize))
}

// QuickAddress returns a direct slice into mapped memory for
// [offset, offset+length) if that span lives entirely within one chunk.
// Callers must fall back to [Manager.Buffer] when ok is false.
func (m *Manager) QuickAddress(offset int64, length int) (data []byte, ok bool) {
	if offset < 0 || offset+int64(length) > m.size {
		return nil, false
	}

	chunkIdx, within := m.locate(offset)
	if within+length > m.chunkSize {
		return nil, false
	}

	return m.chunks[chunkIdx].data[within : within+length], true
}

// Buffer returns the bytes at [offset, offset+length), copying across at
// most two chunk boundaries if necessary.
func (m *Manager) Buffer(offset int64, length int) []byte {
	if data, ok := m.QuickAddress(offset, length); ok {
		out := make([]byte, length)
		copy(out, data)

		return out
	}

	out := make([]byte, length)
	remaining := out

	for len(remaining) > 0 {
		chunkIdx, within := m.locate(offset)
		c := m.chunks[chunkIdx]

		n := len(remaining)
		if within+n > m.chunkSize {
			n = m.chunkSize - within
		}

		copy(remaining[:n], c.data[within:within+n])
		remaining = remaining[n:]
		offset += int64(n)
	}

	return out
}

// Compare reports whether the bytes at offset equal want exactly,
// crossing at most one chunk boundary.
func (m *Manager) Compare(offset int64, want []byte) bool {
	if offset+int64(len(want)) > m.size {
		return false
	}

	if data, ok := m.QuickAddress(offset, len(want)); ok {
		return string(data) == string(want)
	}

	got := m.Buffer(offset, len(want))

	return string(got) == string(want)
}

// Write flushes chunks, in order, to w, stopping once `end` logical bytes
// have been written (the partial final chunk is written only up to its
// logical tail, never the mapped file's full chunkSize).
func (m *Manager) Write(w io.Writer, end int64) error {
	if end > m.size {
		return fmt.Errorf("membuf: write end %d exceeds size %d", end, m.size)
	}

	written := int64(0)
	for _, c := range m.chunks {
		remain := end - written
		if remain <= 0 {
			break
		}

		n := int64(m.chunkSize)
		if n > remain {
			n = remain
		}

		if _, err := w.Write(c.data[:n]); err != nil {
			return fmt.Errorf("membuf: write chunk: %w", err)
		}

		written += n
	}

	return nil
}

// Close unmaps and removes every chunk file. Safe to call once after the
// buffer's contents have been persisted elsewhere (e.g. via [Manager.Write]).
func (m *Manager) Close() error {
	var firstErr error

	for _, c := range m.chunks {
		if err := unix.Munmap(c.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("membuf: munmap: %w", err)
		}

		path := c.file.Name()

		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("membuf: close chunk file: %w", err)
		}

		if err := os.Remove(path); err != nil && firstErr == nil && !os.IsNotExist(err) {
			firstErr = fmt.Errorf("membuf: remove chunk file: %w", err)
		}
	}

	m.chunks = nil

	return firstErr
}
