/*
Package blockdevice provides the Device abstraction the page I/O layer reads
and writes pages through: production code talks to a real file, tests talk
to an in-memory byte slice, and neither the page I/O layer nor its tests
need to know or care which.

Device is intentionally narrower than io.ReadWriteSeeker: pages are read and
written at explicit offsets, concurrently, from many goroutines (the page
provider's writeback path and synchronous fault-in reads happen at once), so
a shared Seek+Read/Write pair is the wrong shape. ReadAt/WriteAt match how
os.File itself exposes safe-for-concurrent-use positioned I/O.
*/
package blockdevice

import (
	"os"
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// Device is a fixed-block-size random access store for page images.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	// Preallocate extends the device to at least size bytes, without
	// necessarily zeroing the new region's on-disk representation.
	Preallocate(size int64) error
	Size() (int64, error)
	Close() error
}

// AlignSize is the required alignment, in bytes, for both the offset and the
// length of every ReadAt/WriteAt call against a direct device. directio
// picks this up from the platform (4096 on Linux); pageio's page-sized
// buffers already satisfy it since page.Size is a multiple of AlignSize.
const AlignSize = directio.AlignSize

// directDevice is a Device backed by a file opened with O_DIRECT, so page
// reads and writes bypass the page cache the buffer manager is replacing.
type directDevice struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenDirect opens (creating if necessary) path as a direct-I/O block
// device.
func OpenDirect(path string) (Device, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open direct device %q", path)
	}
	return &directDevice{file: f, path: path}, nil
}

func (d *directDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.file.ReadAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "read %q at %d", d.path, off)
	}
	return n, nil
}

func (d *directDevice) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.file.WriteAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "write %q at %d", d.path, off)
	}
	return n, nil
}

func (d *directDevice) Sync() error {
	return errors.Wrapf(d.file.Sync(), "sync %q", d.path)
}

// Preallocate grows the file with Truncate. A true fallocate(2) hole-punch
// avoidance would use syscall.Fallocate on Linux, but Truncate is sufficient
// here because the buffer manager always writes full pages before reading
// them back, so sparse-region semantics are never observed.
func (d *directDevice) Preallocate(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.file.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %q", d.path)
	}
	if info.Size() >= size {
		return nil
	}
	return errors.Wrapf(d.file.Truncate(size), "truncate %q to %d", d.path, size)
}

func (d *directDevice) Size() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %q", d.path)
	}
	return info.Size(), nil
}

func (d *directDevice) Close() error {
	return errors.Wrapf(d.file.Close(), "close %q", d.path)
}

// memDevice is an in-memory Device for tests, so tests never touch the
// filesystem or O_DIRECT alignment rules that only matter on real disks.
type memDevice struct {
	mu sync.Mutex
	f  *memfile.File
}

// NewMem constructs an empty in-memory device.
func NewMem() Device {
	return &memDevice{f: memfile.New(make([]byte, 0))}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.ReadAt(p, off)
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.WriteAt(p, off)
}

func (d *memDevice) Sync() error {
	return nil
}

func (d *memDevice) Preallocate(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.f.Seek(0, os.SEEK_END)
	if err != nil {
		return errors.Wrap(err, "seek end of mem device")
	}
	if cur >= size {
		return nil
	}
	pad := make([]byte, size-cur)
	if _, err := d.f.WriteAt(pad, cur); err != nil {
		return errors.Wrap(err, "extend mem device")
	}
	return nil
}

func (d *memDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Seek(0, os.SEEK_END)
}

func (d *memDevice) Close() error {
	return nil
}
