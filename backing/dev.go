package backing

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vramfs/zram/common"
)

// Dev is the BackingDev collaborator: a block-addressable file descriptor that reads and
// writes whole PAGE_SIZE-aligned blocks. A real device is an open block-device file;
// tests and the in-memory fallback can substitute any Dev implementation.
type Dev interface {
	ReadBlock(block int64, dst []byte) error
	WriteBlocks(startBlock int64, pages [][]byte) error
	Close() error
}

// fileDev is the default Dev, a plain file or block-device node accessed with
// unix.Pread/Pwrite at block*pageSize offsets, matching how the teacher's image writers
// address backing storage by absolute byte offset rather than going through the os.File
// buffered path.
type fileDev struct {
	fd       int
	pageSize int
}

// OpenFile opens path (a regular file or block device node) as a Dev. The file is
// created if it does not exist and is not otherwise resized; callers are expected to
// have already sized the backing store to fit nrBlocks*pageSize bytes, or to rely on
// the filesystem's sparse-file support.
func OpenFile(path string, pageSize int) (Dev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, fmt.Errorf("backing: open %s: %w", path, err)
	}
	return &fileDev{fd: fd, pageSize: pageSize}, nil
}

func (d *fileDev) ReadBlock(block int64, dst []byte) error {
	n, err := unix.Pread(d.fd, dst[:d.pageSize], block*int64(d.pageSize))
	if err != nil {
		return fmt.Errorf("backing: read block %d: %w", block, err)
	}
	if n != d.pageSize {
		return fmt.Errorf("backing: short read of block %d: got %d bytes", block, n)
	}
	return nil
}

// WriteBlocks submits one contiguous batch starting at startBlock as a single Pwrite,
// joining the pages the way common.ContiguousBytes does for any other batched-buffer
// write in this codebase — one bio, one syscall, matching the writeback batch flush it
// backs.
func (d *fileDev) WriteBlocks(startBlock int64, pages [][]byte) error {
	buf := common.ContiguousBytes(pages)
	off := startBlock * int64(d.pageSize)
	want := d.pageSize * len(pages)
	n, err := unix.Pwrite(d.fd, buf[:want], off)
	if err != nil {
		return fmt.Errorf("backing: write blocks starting at %d: %w", startBlock, err)
	}
	if n != want {
		return fmt.Errorf("backing: short write starting at block %d: wrote %d of %d bytes", startBlock, n, want)
	}
	return nil
}

func (d *fileDev) Close() error {
	return unix.Close(d.fd)
}
