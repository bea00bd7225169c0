// Package json is a Frontend that writes one JSON object per update to an
// io.Writer (stdout by default), grounded in the teacher's
// internal/engine/events package. A part's error value is written as its
// message string in the "err" field and omitted when the part has none.
package json

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/uloget/uloget/internal/logging"
	"github.com/uloget/uloget/internal/model"
)

// tick is one JSON record emitted per Update call.
type tick struct {
	Type       string           `json:"type"`
	Total      int64            `json:"total,omitempty"`
	Downloaded int64            `json:"downloaded,omitempty"`
	Stats      model.Statistics `json:"stats"`
	Parts      []partRecord     `json:"parts,omitempty"`
}

type partRecord struct {
	Index       int    `json:"index"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	Cur         int64  `json:"cur"`
	Status      string `json:"status"`
	LastMessage string `json:"lastMessage,omitempty"`
	Err         string `json:"err,omitempty"`
}

// logRecord is emitted for Log calls.
type logRecord struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Err   string `json:"err,omitempty"`
}

// JSON is a Frontend that streams newline-delimited JSON objects.
type JSON struct {
	mu   sync.Mutex
	out  io.Writer
	enc  *json.Encoder
	stop chan struct{}
}

func New(out io.Writer) *JSON {
	if out == nil {
		out = os.Stdout
	}
	return &JSON{out: out, enc: json.NewEncoder(out), stop: make(chan struct{})}
}

func (j *JSON) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-j.stop:
	}
	return nil
}

func (j *JSON) Update(parts []model.Snapshot, stats model.Statistics, total, downloaded int64) {
	records := make([]partRecord, 0, len(parts))
	for _, p := range parts {
		var errText string
		if p.Err != nil {
			errText = p.Err.Error()
		}
		records = append(records, partRecord{
			Index:       p.Index,
			From:        p.From,
			To:          p.To,
			Cur:         p.Cur,
			Status:      statusName(p.Status),
			LastMessage: p.LastMessage,
			Err:         errText,
		})
	}
	j.write(tick{Type: "progress", Total: total, Downloaded: downloaded, Stats: stats, Parts: records})
}

func (j *JSON) Log(level logging.Level, msg string) {
	j.write(logRecord{Type: "log", Level: level.String(), Msg: msg})
}

func (j *JSON) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case <-j.stop:
	default:
		close(j.stop)
	}
}

func (j *JSON) write(v any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(v)
}

func statusName(s model.PartStatus) string {
	switch s {
	case model.PartWaiting:
		return "waiting"
	case model.PartRunning:
		return "running"
	case model.PartCompleted:
		return "completed"
	case model.PartError:
		return "error"
	default:
		return "unknown"
	}
}
