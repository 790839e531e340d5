// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mmapFile owns a memory-mapped file. All views into the mapping are
// expressed as offset+length pairs resolved against Data; raw sub-slices
// must not outlive the mapping.
type mmapFile struct {
	Data []byte
	fd   *os.File
	path string
}

// openMmapFile opens or creates the file at path and maps it with at
// least size bytes. An existing larger file keeps its size.
func openMmapFile(path string, size int64, writable bool) (*mmapFile, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	fd, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	fileSize := fi.Size()
	if fileSize < size {
		if !writable {
			fd.Close()
			return nil, errors.Errorf("%s smaller than expected size %d", path, size)
		}
		if err := fd.Truncate(size); err != nil {
			fd.Close()
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
		fileSize = size
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(fd.Fd()), 0, int(fileSize), prot, unix.MAP_SHARED)
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "mmap %s size %d", path, fileSize)
	}
	return &mmapFile{Data: data, fd: fd, path: path}, nil
}

// Sync flushes the mapping to disk, waiting for completion.
func (m *mmapFile) Sync() error {
	if len(m.Data) == 0 {
		return nil
	}
	return errors.Wrapf(unix.Msync(m.Data, unix.MS_SYNC), "msync %s", m.path)
}

// Truncate resizes the file and remaps it.
func (m *mmapFile) Truncate(size int64) error {
	if err := m.Sync(); err != nil {
		return err
	}
	if err := unix.Munmap(m.Data); err != nil {
		return errors.Wrapf(err, "munmap %s", m.path)
	}
	m.Data = nil
	if err := m.fd.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s", m.path)
	}
	data, err := unix.Mmap(int(m.fd.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "remap %s size %d", m.path, size)
	}
	m.Data = data
	return nil
}

// Close unmaps and closes the file.
func (m *mmapFile) Close() error {
	if m.Data != nil {
		if err := unix.Munmap(m.Data); err != nil {
			return errors.Wrapf(err, "munmap %s", m.path)
		}
		m.Data = nil
	}
	return m.fd.Close()
}

// Remove closes the mapping and deletes the file.
func (m *mmapFile) Remove() error {
	if err := m.Close(); err != nil {
		return err
	}
	return os.Remove(m.path)
}
