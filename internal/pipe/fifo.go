package pipe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

type fifoRendezvous struct {
	path string
}

// ensure creates the FIFO when absent. Either side may call it.
func (f *fifoRendezvous) ensure() error {
	info, err := os.Stat(f.path)
	if err == nil {
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a fifo", f.path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := unix.Mkfifo(f.path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", f.path, err)
	}
	return nil
}

func (f *fifoRendezvous) openWriter() (io.WriteCloser, error) {
	if err := f.ensure(); err != nil {
		return nil, err
	}
	return os.OpenFile(f.path, os.O_WRONLY, 0)
}

func (f *fifoRendezvous) openReader() (io.ReadCloser, error) {
	if err := f.ensure(); err != nil {
		return nil, err
	}
	return os.OpenFile(f.path, os.O_RDONLY, 0)
}

// A non-blocking open of the opposite end completes a pending blocking open.
func (f *fifoRendezvous) wakeWriter() {
	if r, err := os.OpenFile(f.path, os.O_RDONLY|unix.O_NONBLOCK, 0); err == nil {
		r.Close()
	}
}

func (f *fifoRendezvous) wakeReader() {
	if w, err := os.OpenFile(f.path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		w.Close()
	}
}

func (f *fifoRendezvous) remove() error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *fifoRendezvous) close() error { return nil }

func (f *fifoRendezvous) String() string { return f.path }
