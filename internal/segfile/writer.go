package segfile

import (
	"sync/atomic"

	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/model"
)

// SegmentWriter is the exclusive writer for one segment's byte range. It
// writes the data file at an absolute offset (no shared seek cursor, so
// disjoint segments need no cross-writer locking) and then overwrites its
// journal slot with a single unbuffered write of W bytes.
type SegmentWriter struct {
	journal *Journal
	seg     model.Segment
	cur     int64 // atomic: current absolute write position
}

func (w *SegmentWriter) Segment() model.Segment { return w.seg }

// Cur returns the current write position without synchronizing with
// in-flight Write calls beyond atomic visibility.
func (w *SegmentWriter) Cur() int64 { return atomic.LoadInt64(&w.cur) }

// Done reports whether the segment has received all of its bytes.
func (w *SegmentWriter) Done() bool { return w.Cur() > w.seg.To }

// Write appends chunk at the writer's current position, advances cur, and
// persists the new cur to the journal before returning.
func (w *SegmentWriter) Write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	cur := atomic.LoadInt64(&w.cur)
	if _, err := w.journal.dataFile.WriteAt(chunk, cur); err != nil {
		return errs.New(errs.IO, err)
	}
	newCur := cur + int64(len(chunk))
	if err := w.persist(newCur); err != nil {
		return err
	}
	atomic.StoreInt64(&w.cur, newCur)
	return nil
}

func (w *SegmentWriter) persist(newCur int64) error {
	width := w.journal.width
	off := int64(1 + width + w.seg.Index*width)
	buf := make([]byte, width)
	putUintW(buf, newCur)
	if _, err := w.journal.journalFile.WriteAt(buf, off); err != nil {
		return errs.New(errs.IO, err)
	}
	return nil
}

// Close is a no-op beyond documenting that the writer no longer owns the
// shared file handles once its segment is complete; the underlying files
// are closed only by Journal.Close.
func (w *SegmentWriter) Close() error { return nil }
