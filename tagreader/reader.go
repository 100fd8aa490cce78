//
// forward-only reader over TIFF-family image file directories
//
// TIFF spec
// https://www.adobe.io/open/standards/TIFF.html
//

// Package tagreader walks the linked, typed tag directories of TIFF-family
// streams (TIFF, DNG, NEF, CR2, ARW, EXIF blocks) one entry at a time.
//
// The reader never loads a whole directory. Callers react to each entry as
// it is read, fetch its data on demand and enqueue further directories
// (sub-images, the Exif block) they want walked. Every offset in the stream
// resolves against the position the reader was constructed at, so an
// embedded TIFF block (a JPEG APP1 Exif segment) parses in place.
package tagreader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bst "github.com/mixcode/binarystruct"

	"github.com/mixcode/imagecore/errs"
)

// Name of the directory the header points at.
const RootDirectory = "IFD"

const entrySize = 12

// accepted values of the 16-bit marker after the byte order mark
var headerMagic = map[uint16]string{
	0x002a: "TIFF",
	0x0055: "RW2",
	0x4f52: "ORF", // "RO"
	0x5352: "ORF", // "SR"
}

// Directory is a pending directory: its position relative to the reader's
// initial position, and its logical name.
type Directory struct {
	Position int64
	Name     string
}

// a single 12-byte directory entry record
type entryRecord struct {
	ID    uint16  // Tag id of the entry
	Type  uint16  // type code of the value
	Count uint32  // number of values
	Value [4]byte // value if it fits in 4-bytes, or offset to the value
}

var errNoEntry = errors.New("tagreader: no current entry")

// Reader is not safe for concurrent use.
type Reader struct {
	in       io.ReadSeeker
	order    binary.ByteOrder
	bstOrder bst.ByteOrder
	initial  int64 // stream position at construction; every offset is relative to it
	length   int64 // bytes available from initial
	magic    uint16

	queue   []Directory
	visited map[int64]bool
	counter map[string]int

	dir       Directory
	dirIndex  int
	remaining int
	next      int64 // relative position of the next entry record

	entry    entryRecord
	hasEntry bool
	done     bool
}

// New reads the 8-byte header at the current position of in.
// The first directory is queued under RootDirectory.
func New(in io.ReadSeeker) (r *Reader, err error) {
	initial, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		err = fmt.Errorf("tagreader: stream is not seekable: %w", errs.ErrMalformed)
		return
	}
	end, err := in.Seek(0, io.SeekEnd)
	if err != nil {
		err = fmt.Errorf("tagreader: stream is not seekable: %w", errs.ErrMalformed)
		return
	}
	if _, err = in.Seek(initial, io.SeekStart); err != nil {
		return
	}

	buf := make([]byte, 8)
	if _, err = io.ReadFull(in, buf); err != nil {
		err = fmt.Errorf("tagreader: short header: %w", errs.ErrMalformed)
		return
	}

	r = &Reader{
		in:      in,
		initial: initial,
		length:  end - initial,
		visited: make(map[int64]bool),
		counter: make(map[string]int),
	}
	// First two bytes indicate the byte order
	switch {
	case buf[0] == 'I' && buf[1] == 'I':
		r.order, r.bstOrder = binary.LittleEndian, bst.LittleEndian
	case buf[0] == 'M' && buf[1] == 'M':
		r.order, r.bstOrder = binary.BigEndian, bst.BigEndian
	default:
		return nil, fmt.Errorf("tagreader: invalid byte order mark: %w", errs.ErrMalformed)
	}

	var header struct {
		Magic     uint16
		OffsetIFD int64 `binary:"uint32"` // offset to the first Image File Directory
	}
	if _, err = bst.Unmarshal(buf[2:8], r.bstOrder, &header); err != nil {
		return nil, fmt.Errorf("tagreader: %v: %w", err, errs.ErrMalformed)
	}
	if _, ok := headerMagic[header.Magic]; !ok {
		return nil, fmt.Errorf("tagreader: invalid header marker 0x%04x: %w", header.Magic, errs.ErrMalformed)
	}
	r.magic = header.Magic

	if err = r.EnqueueDirectory(header.OffsetIFD, RootDirectory); err != nil {
		return nil, err
	}
	return r, nil
}

// ByteOrder returns the byte order fixed by the header.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.order }

// InitialPosition returns the stream position the reader was created at.
func (r *Reader) InitialPosition() int64 { return r.initial }

// Magic returns the 16-bit header marker (0x2a for plain TIFF).
func (r *Reader) Magic() uint16 { return r.magic }

// Variant names the TIFF dialect indicated by the header marker.
func (r *Reader) Variant() string { return headerMagic[r.magic] }

// EnqueueDirectory queues a directory at position, relative to the initial
// position, to be walked after the already pending ones. A directory
// position is walked at most once.
func (r *Reader) EnqueueDirectory(position int64, name string) error {
	if position < 8 || position+2 > r.length {
		return fmt.Errorf("tagreader: directory %q offset %d out of range: %w", name, position, errs.ErrMalformed)
	}
	if r.visited[position] {
		return fmt.Errorf("tagreader: directory %q at %d already visited: %w", name, position, errs.ErrMalformed)
	}
	r.visited[position] = true
	r.queue = append(r.queue, Directory{Position: position, Name: name})
	r.done = false
	return nil
}

// Read advances to the next entry.
//
// It returns true when an entry is available. It returns false with a nil
// error once every queued directory has been walked; it keeps doing so
// until another directory is enqueued. A false result with an error
// reports a structurally broken directory or entry; the broken directory
// is dropped and the next call continues with the remaining ones.
func (r *Reader) Read() (ok bool, err error) {
	r.hasEntry = false
	for !r.done {
		if r.remaining > 0 {
			return r.readEntry()
		}
		if len(r.queue) == 0 {
			r.done = true
			break
		}
		d := r.queue[0]
		r.queue = r.queue[1:]
		if err = r.openDirectory(d); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *Reader) openDirectory(d Directory) (err error) {
	if _, err = r.in.Seek(r.initial+d.Position, io.SeekStart); err != nil {
		return fmt.Errorf("tagreader: seek directory %q: %v: %w", d.Name, err, errs.ErrMalformed)
	}
	var numEntry uint16
	if _, err = bst.Read(r.in, r.bstOrder, &numEntry); err != nil {
		return fmt.Errorf("tagreader: directory %q: %v: %w", d.Name, err, errs.ErrMalformed)
	}
	if d.Position+2+int64(numEntry)*entrySize > r.length {
		return fmt.Errorf("tagreader: directory %q with %d entries runs past end of stream: %w", d.Name, numEntry, errs.ErrMalformed)
	}

	r.dir = d
	r.dirIndex = r.counter[d.Name]
	r.counter[d.Name]++
	r.remaining = int(numEntry)
	r.next = d.Position + 2
	if r.remaining == 0 {
		r.chain()
	}
	return nil
}

func (r *Reader) readEntry() (ok bool, err error) {
	if _, err = r.in.Seek(r.initial+r.next, io.SeekStart); err == nil {
		_, err = bst.Read(r.in, r.bstOrder, &r.entry)
	}
	if err != nil {
		r.remaining = 0
		return false, fmt.Errorf("tagreader: entry in directory %q: %v: %w", r.dir.Name, err, errs.ErrMalformed)
	}
	r.remaining--
	r.next += entrySize
	if r.remaining == 0 {
		r.chain()
	}
	r.hasEntry = true
	return true, nil
}

// chain queues the directory linked after the current one under the same
// name. A missing or broken link simply ends the chain.
func (r *Reader) chain() {
	if r.next+4 > r.length {
		return
	}
	if _, err := r.in.Seek(r.initial+r.next, io.SeekStart); err != nil {
		return
	}
	var offset uint32
	if _, err := bst.Read(r.in, r.bstOrder, &offset); err != nil || offset == 0 {
		return
	}
	r.EnqueueDirectory(int64(offset), r.dir.Name)
}

// DirectoryName returns the logical name of the directory being read.
func (r *Reader) DirectoryName() string { return r.dir.Name }

// DirectoryIndex tells apart directories sharing a name: 0 for the first
// "SubIFD", 1 for the second, and so on.
func (r *Reader) DirectoryIndex() int { return r.dirIndex }

// Pending returns the number of directories still queued.
func (r *Reader) Pending() int { return len(r.queue) }

// EntryID returns the tag id of the current entry.
func (r *Reader) EntryID() uint16 { return r.entry.ID }

// EntryType returns the type code of the current entry.
func (r *Reader) EntryType() Type { return Type(r.entry.Type) }

// EntryCount returns the number of values of the current entry.
func (r *Reader) EntryCount() uint32 { return r.entry.Count }
