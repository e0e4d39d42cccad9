package morph

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Pager gives random access to the records of a .blex file through a
// read-only memory mapping. It is how purged words page their entries back in:
// the OS faults in the few pages a record touches instead of the process
// holding the whole lexicon on the heap.
type Pager struct {
	mu   sync.RWMutex
	path string
	file *os.File
	data mmap.MMap
}

// OpenPager maps path read-only.
func OpenPager(path string) (*Pager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pager: %w", err)
	}
	p := &Pager{path: path, file: f}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	// mmap refuses empty files; an empty lexicon simply has nothing to page.
	if info.Size() > 0 {
		p.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	return p, nil
}

// readRecord decodes the record at offset and returns it together with a
// heap copy of its bytes.
func (p *Pager) readRecord(offset int64) (*rawRecord, []byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.file == nil {
		return nil, nil, errors.New("pager closed")
	}
	if offset < 0 || offset >= int64(len(p.data)) {
		return nil, nil, fmt.Errorf("%w: offset %d outside %s", ErrCorruptRecord, offset, p.path)
	}
	r := newBitReader(p.data[offset:])
	rec, err := decodeRecord(r)
	if err != nil {
		return nil, nil, fmt.Errorf("record at %d: %w", offset, err)
	}
	raw := make([]byte, r.bytePos())
	copy(raw, p.data[offset:])
	return rec, raw, nil
}

// Close unmaps the file. Reads after Close fail.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	var err error
	if p.data != nil {
		err = p.data.Unmap()
		p.data = nil
	}
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.file = nil
	return err
}
