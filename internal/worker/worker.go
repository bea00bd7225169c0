// Package worker implements C6, the part worker pool: one worker per
// segment, pulling a URL, issuing a ranged GET, and streaming the body
// through the segment's writer. Grounded in the teacher's
// internal/downloader/concurrent.go worker()/downloadTask(), simplified
// to the spec's fixed-partition semantics (no work-stealing or
// chunk-splitting) and its explicit 429/425 retry-with-5s-backoff policy.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/uloget/uloget/internal/config"
	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/model"
	"github.com/uloget/uloget/internal/segfile"
	"github.com/uloget/uloget/internal/urlqueue"
)

// bufPool recycles the fixed-size chunk buffer across workers, grounded
// in concurrent.go's sync.Pool of read buffers.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, config.DefaultChunkSize)
		return &buf
	},
}

// Run executes one worker for part, streaming bytes from url into writer.
// On success it recycles url back into queue. It returns nil on success
// or on cooperative cancellation; any other error marks the part as
// errored and is returned to the caller.
func Run(ctx context.Context, client *http.Client, part *model.DownloadPart, writer *segfile.SegmentWriter, queue *urlqueue.Queue, runtime *config.RuntimeConfig, url string) error {
	part.Mu.Lock()
	part.URL = url
	part.Status = model.PartRunning
	part.StartedAt = time.Now()
	part.Mu.Unlock()

	if writer.Done() {
		part.SetStatus(model.PartCompleted, "already complete", nil)
		return nil
	}

	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	for {
		select {
		case <-ctx.Done():
			part.SetStatus(model.PartWaiting, "cancelled", nil)
			return nil
		default:
		}

		resp, transient, err := rangedGet(ctx, client, url, writer, runtime)
		if err != nil {
			if ctx.Err() != nil {
				part.SetStatus(model.PartWaiting, "cancelled", nil)
				return nil
			}
			part.SetStatus(model.PartError, "request failed", err)
			return err
		}
		if transient {
			delay := retryDelay(resp, runtime)
			resp.Body.Close()
			select {
			case <-ctx.Done():
				part.SetStatus(model.PartWaiting, "cancelled", nil)
				return nil
			case <-time.After(delay):
			}
			continue
		}

		err = stream(ctx, resp, writer, part, buf)
		resp.Body.Close()
		if err != nil {
			if err == errCancelled {
				part.SetStatus(model.PartWaiting, "cancelled", nil)
				return nil
			}
			part.SetStatus(model.PartError, "stream failed", err)
			return err
		}

		part.SetStatus(model.PartCompleted, "done", nil)
		if queue != nil {
			queue.Put(url)
		}
		return nil
	}
}

// rangedGet issues the Range GET and reports whether the response status
// means "retry the same URL after a backoff" (429/425).
func rangedGet(ctx context.Context, client *http.Client, url string, writer *segfile.SegmentWriter, runtime *config.RuntimeConfig) (*http.Response, bool, error) {
	seg := writer.Segment()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errs.New(errs.Transport, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", writer.Cur(), seg.To))
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", runtime.GetUserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, false, errs.New(errs.Transport, err)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusTooEarly:
		return resp, true, nil
	case http.StatusOK, http.StatusPartialContent:
		return resp, false, nil
	default:
		resp.Body.Close()
		return nil, false, errs.New(errs.RateLimit, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// retryDelay honors a server-supplied Retry-After header when present,
// otherwise falls back to the fixed 5s backoff spec.md §4.6 names.
func retryDelay(resp *http.Response, runtime *config.RuntimeConfig) time.Duration {
	if ra, ok := httpheader.RetryAfter(resp.Header, time.Now()); ok {
		if d := time.Until(ra); d > 0 {
			return d
		}
	}
	return runtime.GetRangeRetryDelay()
}

var errCancelled = fmt.Errorf("cancelled")

// stream copies resp.Body into writer in fixed-size chunks, updating
// part's counters under its mutex and checking for cancellation between
// chunks.
func stream(ctx context.Context, resp *http.Response, writer *segfile.SegmentWriter, part *model.DownloadPart, buf []byte) error {
	for {
		select {
		case <-ctx.Done():
			return errCancelled
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := writer.Write(buf[:n]); err != nil {
				return err
			}
			part.Mu.Lock()
			part.Cur = writer.Cur()
			part.BytesThisAttempt += int64(n)
			part.Mu.Unlock()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return errCancelled
			}
			return errs.New(errs.Transport, readErr)
		}
		if writer.Done() {
			return nil
		}
	}
}
