// Package model holds the core value types shared across the download
// pipeline: the parsed landing page, the on-disk segment layout, and the
// in-memory per-part and per-run statistics the frontend observes.
package model

import (
	"sync"
	"time"
)

// LandingInfo is produced by the landing-page parser. Invariant: at least
// one of QuickDownloadURL, SlowDownloadURL, CaptchaURL is non-empty.
type LandingInfo struct {
	PageURL         string
	Filename        string
	QuickDownloadURL string
	SlowDownloadURL  string
	CaptchaURL       string
	IsDirectDownload bool
	NeedPassword     bool
}

// HasURL reports whether the parser found at least one usable download URL.
func (l LandingInfo) HasURL() bool {
	return l.QuickDownloadURL != "" || l.SlowDownloadURL != "" || l.CaptchaURL != ""
}

// Segment describes one of P disjoint byte ranges tiling the output file.
// pFrom_i = i*partSize; pTo_i = min((i+1)*partSize-1, totalSize-1).
type Segment struct {
	Index int
	From  int64
	To    int64 // inclusive
}

// Size returns the number of bytes the segment covers.
func (s Segment) Size() int64 {
	if s.To < s.From {
		return 0
	}
	return s.To - s.From + 1
}

type PartStatus int

const (
	PartWaiting PartStatus = iota
	PartRunning
	PartCompleted
	PartError
)

// DownloadPart is the in-memory, mutex-protected state of one worker's
// progress against one Segment. Mutated only under Mu; read-only snapshots
// must copy under Mu.
type DownloadPart struct {
	Mu sync.Mutex

	Segment Segment
	URL     string

	Status           PartStatus
	BytesThisAttempt int64
	Cur              int64 // current absolute write position, pFrom <= Cur <= pTo+1

	StartedAt    time.Time
	CompletedAt  time.Time
	LastMessage  string
	Err          error
}

// Snapshot is a read-only copy safe to hand to a frontend.
type Snapshot struct {
	Index       int
	From, To    int64
	Cur         int64
	Status      PartStatus
	LastMessage string
	Err         error
}

func (p *DownloadPart) Snapshot() Snapshot {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	return Snapshot{
		Index:       p.Segment.Index,
		From:        p.Segment.From,
		To:          p.Segment.To,
		Cur:         p.Cur,
		Status:      p.Status,
		LastMessage: p.LastMessage,
		Err:         p.Err,
	}
}

func (p *DownloadPart) SetStatus(status PartStatus, msg string, err error) {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	p.Status = status
	p.LastMessage = msg
	p.Err = err
	if status == PartCompleted {
		p.CompletedAt = time.Now()
	}
}

// Statistics holds per-run link-acquisition counters, updated only from
// the acquirer task.
type Statistics struct {
	mu      sync.Mutex
	All     int
	OK      int
	Bad     int
	Limited int
	Blocked int
	Net     int
}

func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{All: s.All, OK: s.OK, Bad: s.Bad, Limited: s.Limited, Blocked: s.Blocked, Net: s.Net}
}

func (s *Statistics) incr(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

func (s *Statistics) IncrAll()     { s.incr(&s.All) }
func (s *Statistics) IncrOK()      { s.incr(&s.OK) }
func (s *Statistics) IncrBad()     { s.incr(&s.Bad) }
func (s *Statistics) IncrLimited() { s.incr(&s.Limited) }
func (s *Statistics) IncrBlocked() { s.incr(&s.Blocked) }
func (s *Statistics) IncrNet()     { s.incr(&s.Net) }
