/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package extent implements the fixed-size storage unit of a Container: the ExtentId wire format
// and the on-disk Extent file abstraction it names.
package extent

import (
	"fmt"
	"io"
	"os"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// Capacity is the fixed size of every extent, in bytes.
const Capacity = 1 << 20 // 1 MiB

// Id identifies one extent within a container by its offset index, where
// offset_index = byte_offset / Capacity.
type Id struct {
	ContainerId ids.ContainerId
	OffsetIndex uint32
}

// suffixDigits is the fixed width of the hex-encoded offset index in the wire form.
const suffixDigits = 8

// String renders the wire form of the id: "{container_id}.{offset_index:08x}". This is the
// backend object name and must round-trip exactly through Parse.
func (id Id) String() string {
	return fmt.Sprintf("%s.%0*x", id.ContainerId, suffixDigits, id.OffsetIndex)
}

// Parse recovers an Id from its wire form. It rejects strings shorter than separator+8, with the
// wrong separator, or with a non-hex suffix.
func Parse(s string) (Id, error) {
	if len(s) < suffixDigits+1 {
		return Id{}, fmt.Errorf("extent id %q is too short", s)
	}
	sep := len(s) - suffixDigits - 1
	if s[sep] != '.' {
		return Id{}, fmt.Errorf("extent id %q has no '.' separator before the offset suffix", s)
	}

	suffix := s[sep+1:]
	var offset uint32
	if _, err := fmt.Sscanf(suffix, "%08x", &offset); err != nil {
		return Id{}, fmt.Errorf("extent id %q has a non-hex offset suffix: %w", s, err)
	}
	// fmt.Sscanf with %x silently accepts a prefix; make sure the whole suffix was consumed and
	// round-trips to the same text.
	if fmt.Sprintf("%0*x", suffixDigits, offset) != suffix {
		return Id{}, fmt.Errorf("extent id %q has a malformed offset suffix", s)
	}

	return Id{ContainerId: ids.ContainerId(s[:sep]), OffsetIndex: offset}, nil
}

// Extent is a single on-disk backing file for one container offset index. Content is opaque
// bytes; the file may be sparse and shorter than Capacity, which reads as implicit zero-fill.
type Extent struct {
	Path string
}

// New wraps a path as an Extent. The file need not yet exist.
func New(path string) Extent {
	return Extent{Path: path}
}

// Capacity returns the fixed extent capacity.
func (Extent) Capacity() int {
	return Capacity
}

// Read performs a positional read into buf starting at off. If the underlying file is shorter
// than off+len(buf), the tail of buf is zero-filled.
func (e Extent) Read(off int, buf []byte) (int, error) {
	file, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			clear(buf)
			return len(buf), nil
		}
		return 0, fmt.Errorf("opening extent %s: %w", e.Path, err)
	}
	defer file.Close()

	n, err := file.ReadAt(buf, int64(off))
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("reading extent %s: %w", e.Path, err)
	}
	if n < len(buf) {
		clear(buf[n:])
	}
	return len(buf), nil
}

// Write performs a positional write, extending the file if necessary up to Capacity.
func (e Extent) Write(off int, buf []byte) error {
	if off+len(buf) > Capacity {
		return fmt.Errorf("write at offset %d length %d exceeds extent capacity %d", off, len(buf), Capacity)
	}
	file, err := os.OpenFile(e.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening extent %s: %w", e.Path, err)
	}
	defer file.Close()

	n, err := file.WriteAt(buf, int64(off))
	if err != nil {
		return fmt.Errorf("writing extent %s: %w", e.Path, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write to extent %s: wrote %d of %d bytes", e.Path, n, len(buf))
	}
	return nil
}

// Resize truncates the extent's backing file to newLen, which must be in (0, Capacity].
func (e Extent) Resize(newLen int) error {
	if newLen <= 0 || newLen > Capacity {
		return fmt.Errorf("resize length %d out of range (0, %d]", newLen, Capacity)
	}
	if err := os.Truncate(e.Path, int64(newLen)); err != nil {
		if os.IsNotExist(err) {
			file, createErr := os.OpenFile(e.Path, os.O_CREATE|os.O_RDWR, 0644)
			if createErr != nil {
				return fmt.Errorf("creating extent %s: %w", e.Path, createErr)
			}
			defer file.Close()
			return file.Truncate(int64(newLen))
		}
		return fmt.Errorf("truncating extent %s: %w", e.Path, err)
	}
	return nil
}

// Size returns the current on-disk size of the extent, or 0 if it does not exist.
func (e Extent) Size() (int, error) {
	info, err := os.Stat(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("statting extent %s: %w", e.Path, err)
	}
	return int(info.Size()), nil
}

// Remove deletes the extent's backing file. Removing an already-absent file is not an error.
func (e Extent) Remove() error {
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing extent %s: %w", e.Path, err)
	}
	return nil
}
