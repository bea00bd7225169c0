// Package segfile implements C1, the segmented file store: a
// preallocated data file plus a binary sidecar progress journal that lets
// a crashed download resume without losing more than one chunk of work
// per segment.
//
// Journal layout (see SPEC_FULL.md §3 ProgressJournal):
//
//	byte 0     : W, byte-width of the fields that follow
//	bytes 1..W : totalSize
//	bytes 1+W..: P entries of W bytes each, entry i = cur_i
//
// W is derived from totalSize (ceil(bits(totalSize)/8)+1) so the same
// layout scales from kilobyte to terabyte files without a fixed-width
// enum. Fields are written little-endian by explicit byte operations,
// whatever the host's native byte order.
package segfile

import (
	"fmt"
	"math/bits"
	"os"

	"github.com/gofrs/flock"

	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/model"
)

const journalSuffix = ".udown"
const lockSuffix = ".udown.lock"

// Journal owns the data file and the progress journal for one download. It
// holds an exclusive flock on the journal for as long as the download is
// in progress, preventing two uloget invocations from corrupting the same
// target concurrently.
type Journal struct {
	dataPath    string
	journalPath string

	dataFile    *os.File
	journalFile *os.File
	lock        *flock.Flock

	totalSize int64
	parts     int
	width     int
}

// byteWidth computes W = ceil(bits(totalSize)/8) + 1.
func byteWidth(totalSize int64) int {
	bitLen := bits.Len64(uint64(totalSize))
	return (bitLen+7)/8 + 1
}

// Open creates a fresh journal+data file pair, or reuses an existing
// consistent pair, for dataPath. desiredParts is honored only when a new
// journal is created; on resume, P is derived from the existing journal's
// length.
func Open(dataPath string, totalSize int64, desiredParts int) (*Journal, error) {
	if desiredParts < 1 {
		desiredParts = 1
	}
	journalPath := dataPath + journalSuffix

	lock := flock.New(dataPath + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.New(errs.IO, err)
	}
	if !locked {
		return nil, errs.New(errs.IO, fmt.Errorf("another uloget instance is writing %s", dataPath))
	}

	j := &Journal{dataPath: dataPath, journalPath: journalPath, lock: lock}

	if existing, err := readHeader(journalPath); err == nil && existing.totalSize == totalSize {
		if err := j.reuse(existing); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		return j, nil
	}

	if err := j.create(totalSize, desiredParts); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return j, nil
}

type header struct {
	width     int
	totalSize int64
	parts     int
}

func readHeader(journalPath string) (header, error) {
	f, err := os.Open(journalPath)
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	wb := make([]byte, 1)
	if _, err := f.ReadAt(wb, 0); err != nil {
		return header{}, err
	}
	w := int(wb[0])
	if w <= 0 {
		return header{}, fmt.Errorf("corrupt journal width")
	}

	sizeBuf := make([]byte, w)
	if _, err := f.ReadAt(sizeBuf, 1); err != nil {
		return header{}, err
	}
	totalSize := getUintW(sizeBuf)

	info, err := f.Stat()
	if err != nil {
		return header{}, err
	}
	remaining := info.Size() - int64(1+w)
	if remaining <= 0 || remaining%int64(w) != 0 {
		return header{}, fmt.Errorf("corrupt journal length")
	}
	parts := int(remaining / int64(w))

	return header{width: w, totalSize: totalSize, parts: parts}, nil
}

func (j *Journal) reuse(h header) error {
	dataFile, err := os.OpenFile(j.dataPath, os.O_RDWR, 0o644)
	if err != nil {
		return errs.New(errs.IO, err)
	}
	journalFile, err := os.OpenFile(j.journalPath, os.O_RDWR, 0o644)
	if err != nil {
		dataFile.Close()
		return errs.New(errs.IO, err)
	}
	j.dataFile = dataFile
	j.journalFile = journalFile
	j.totalSize = h.totalSize
	j.parts = h.parts
	j.width = h.width
	return nil
}

func (j *Journal) create(totalSize int64, parts int) error {
	dataFile, err := os.OpenFile(j.dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errs.New(errs.IO, err)
	}
	if err := dataFile.Truncate(totalSize); err != nil {
		dataFile.Close()
		return errs.New(errs.IO, err)
	}

	journalFile, err := os.OpenFile(j.journalPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		dataFile.Close()
		return errs.New(errs.IO, err)
	}

	w := byteWidth(totalSize)
	buf := make([]byte, 1+w+parts*w)
	buf[0] = byte(w)
	putUintW(buf[1:1+w], totalSize)

	partSize := partSizeFor(totalSize, parts)
	for i := 0; i < parts; i++ {
		from := int64(i) * partSize
		off := 1 + w + i*w
		putUintW(buf[off:off+w], from)
	}

	if _, err := journalFile.WriteAt(buf, 0); err != nil {
		dataFile.Close()
		journalFile.Close()
		return errs.New(errs.IO, err)
	}

	j.dataFile = dataFile
	j.journalFile = journalFile
	j.totalSize = totalSize
	j.parts = parts
	j.width = w
	return nil
}

func partSizeFor(totalSize int64, parts int) int64 {
	if parts <= 0 {
		return totalSize
	}
	return (totalSize + int64(parts) - 1) / int64(parts)
}

// Segments returns the P segments tiling the file, as derived from the
// journal (not from a caller-supplied part count).
func (j *Journal) Segments() []model.Segment {
	partSize := partSizeFor(j.totalSize, j.parts)
	segs := make([]model.Segment, j.parts)
	for i := 0; i < j.parts; i++ {
		from := int64(i) * partSize
		to := from + partSize - 1
		if to > j.totalSize-1 {
			to = j.totalSize - 1
		}
		segs[i] = model.Segment{Index: i, From: from, To: to}
	}
	return segs
}

func (j *Journal) TotalSize() int64 { return j.totalSize }
func (j *Journal) Parts() int       { return j.parts }

// CurPos reads segment i's current write position directly from the
// journal file, independent of any in-memory writer lock -- this is the
// read-only accessor the UI snapshotter uses.
func (j *Journal) CurPos(i int) (int64, error) {
	off := int64(1 + j.width + i*j.width)
	buf := make([]byte, j.width)
	if _, err := j.journalFile.ReadAt(buf, off); err != nil {
		return 0, err
	}
	return getUintW(buf), nil
}

// DownloadedBytes sums cur_i - pFrom_i over all segments.
func (j *Journal) DownloadedBytes() int64 {
	var total int64
	for _, seg := range j.Segments() {
		cur, err := j.CurPos(seg.Index)
		if err != nil {
			continue
		}
		total += cur - seg.From
	}
	return total
}

// Writer returns a SegmentWriter for segment i, positioned at its
// persisted cur.
func (j *Journal) Writer(i int) (*SegmentWriter, error) {
	segs := j.Segments()
	if i < 0 || i >= len(segs) {
		return nil, fmt.Errorf("segment %d out of range", i)
	}
	cur, err := j.CurPos(i)
	if err != nil {
		return nil, errs.New(errs.IO, err)
	}
	return &SegmentWriter{journal: j, seg: segs[i], cur: cur}, nil
}

// Close releases both file handles and the exclusive lock. Call Delete
// first if the journal should not survive (successful completion).
func (j *Journal) Close() error {
	var firstErr error
	if j.dataFile != nil {
		if err := j.dataFile.Close(); err != nil {
			firstErr = err
		}
	}
	if j.journalFile != nil {
		if err := j.journalFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.lock != nil {
		_ = j.lock.Unlock()
	}
	return firstErr
}

// Delete removes the journal and lock files, leaving only the completed
// data file behind. Call on successful completion, before Close.
func (j *Journal) Delete() error {
	_ = os.Remove(j.journalPath)
	_ = os.Remove(j.dataPath + lockSuffix)
	return nil
}

func putUintW(buf []byte, v int64) {
	for i := 0; i < len(buf); i++ {
		buf[i] = byte(v)
		v >>= 8
	}
}

func getUintW(buf []byte) int64 {
	var v int64
	for i := len(buf) - 1; i >= 0; i-- {
		v = (v << 8) | int64(buf[i])
	}
	return v
}
