// Package disk implements the byte-granular page store consumed by the
// buffer pool manager (spec §6, "Disk Manager (consumed)").
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"coredb/internal/logging"
	"coredb/storage/page"
)

// Manager reads and writes fixed-size pages of a single backing file.
// It is backed by an afero.Fs so the exact same code path runs against
// an in-memory filesystem in tests and a real one in production.
type Manager struct {
	fs   afero.Fs
	path string

	mu   sync.Mutex
	file afero.File

	nextPageID int32
}

// New opens (creating if necessary) the database file at path on fs and
// returns a Manager ready to serve ReadPage/WritePage.
func New(fs afero.Fs, path string) (*Manager, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}

	// Page id 0 is reserved for the B+Tree's index-directory header page
	// (spec §6); allocation never hands it out, whether or not the file
	// already holds data there.
	next := int32(info.Size() / page.Size)
	if next < 1 {
		next = 1
	}

	return &Manager{
		fs:         fs,
		path:       path,
		file:       f,
		nextPageID: next,
	}, nil
}

// ReadPage reads the page.Size bytes belonging to id into buf. Reading a
// page beyond the current end of file yields a zero-filled buffer — a
// freshly allocated page that has never been written is defined to read
// as all-zero.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("disk: read buffer must be %d bytes, got %d", page.Size, len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * page.Size
	n, err := m.file.ReadAt(buf, off)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		logging.Get().Errorw("disk: read page failed", "page_id", id, "error", err)
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes data (exactly page.Size bytes) to the slot belonging
// to id, extending the backing file as needed.
func (m *Manager) WritePage(id page.ID, data []byte) error {
	if len(data) != page.Size {
		return fmt.Errorf("disk: write buffer must be %d bytes, got %d", page.Size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * page.Size
	if _, err := m.file.WriteAt(data, off); err != nil {
		logging.Get().Errorw("disk: write page failed", "page_id", id, "error", err)
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	return nil
}

// AllocatePage returns the next never-before-used page id. Allocation is
// monotonic and never reused, matching the buffer pool manager's own
// counter in the reference implementation.
func (m *Manager) AllocatePage() page.ID {
	return page.ID(atomic.AddInt32(&m.nextPageID, 1) - 1)
}

// DeallocatePage is the external page-id deallocation hook the buffer
// pool calls from DeletePage. Real space reclamation is out of scope
// (spec §1 Non-goals) — this only exists so DeletePage has somewhere to
// report the freed id.
func (m *Manager) DeallocatePage(page.ID) {}

// Close releases the backing file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
