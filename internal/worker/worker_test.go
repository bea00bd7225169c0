package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uloget/uloget/internal/config"
	"github.com/uloget/uloget/internal/model"
	"github.com/uloget/uloget/internal/segfile"
	"github.com/uloget/uloget/internal/testutil"
	"github.com/uloget/uloget/internal/urlqueue"
)

func newJournal(t *testing.T, size int64) *segfile.Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := segfile.Open(filepath.Join(dir, "file.bin"), size, 1)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunDownloadsFullSegment(t *testing.T) {
	body := []byte("hello world, this is the payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer server.Close()

	j := newJournal(t, int64(len(body)))
	writer, err := j.Writer(0)
	require.NoError(t, err)

	part := &model.DownloadPart{Segment: writer.Segment()}
	q := urlqueue.New()

	err = Run(context.Background(), server.Client(), part, writer, q, nil, server.URL)
	require.NoError(t, err)

	assert.Equal(t, model.PartCompleted, part.Status)
	assert.True(t, writer.Done())

	u, ok := q.Take()
	assert.True(t, ok)
	assert.Equal(t, server.URL, u)
}

func TestRunRetriesOn429(t *testing.T) {
	body := []byte("payload")
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer server.Close()

	j := newJournal(t, int64(len(body)))
	writer, err := j.Writer(0)
	require.NoError(t, err)

	part := &model.DownloadPart{Segment: writer.Segment()}
	runtime := &config.RuntimeConfig{RangeRetryDelay: 10 * time.Millisecond}

	err = Run(context.Background(), server.Client(), part, writer, nil, runtime, server.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempt, 2)
	assert.Equal(t, model.PartCompleted, part.Status)
}

func TestRunUnexpectedStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	j := newJournal(t, 10)
	writer, err := j.Writer(0)
	require.NoError(t, err)

	part := &model.DownloadPart{Segment: writer.Segment()}

	err = Run(context.Background(), server.Client(), part, writer, nil, nil, server.URL)
	assert.Error(t, err)
	assert.Equal(t, model.PartError, part.Status)
}

func TestRunStopsOnCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	j := newJournal(t, 10)
	writer, err := j.Writer(0)
	require.NoError(t, err)

	part := &model.DownloadPart{Segment: writer.Segment()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, server.Client(), part, writer, nil, nil, server.URL)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunFailsOnMidStreamDisconnect(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(64*1024),
		testutil.WithRangeSupport(true),
		testutil.WithFailAfterBytes(8*1024),
	)
	defer server.Close()

	j := newJournal(t, 64*1024)
	writer, err := j.Writer(0)
	require.NoError(t, err)

	part := &model.DownloadPart{Segment: writer.Segment()}

	err = Run(context.Background(), server.Server.Client(), part, writer, nil, nil, server.URL())
	assert.Error(t, err)
	assert.Equal(t, model.PartError, part.Status)
	assert.False(t, writer.Done())
}

func TestRunSkipsAlreadyCompleteSegment(t *testing.T) {
	j := newJournal(t, 5)
	writer, err := j.Writer(0)
	require.NoError(t, err)
	require.NoError(t, writer.Write([]byte("abcde")))
	require.True(t, writer.Done())

	part := &model.DownloadPart{Segment: writer.Segment()}

	err = Run(context.Background(), http.DefaultClient, part, writer, nil, nil, "http://unused.invalid")
	require.NoError(t, err)
	assert.Equal(t, model.PartCompleted, part.Status)
}
