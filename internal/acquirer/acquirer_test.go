package acquirer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uloget/uloget/internal/captcha"
	"github.com/uloget/uloget/internal/model"
)

type fakeCircuit struct {
	client      *http.Client
	rotations   int
}

func (f *fakeCircuit) EnsureRunning(ctx context.Context) error { return nil }
func (f *fakeCircuit) NewIdentity(ctx context.Context) error   { f.rotations++; return nil }
func (f *fakeCircuit) Proxied() (*http.Client, error)          { return f.client, nil }

func TestDirectPathProducesURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"afterDownloadUrl":true,"slowDownloadLink":"https://example.com/dl?tm=%d"}`, time.Now().Add(time.Hour).Unix())
	}))
	defer server.Close()

	landing := model.LandingInfo{IsDirectDownload: true, SlowDownloadURL: server.URL}
	fc := &fakeCircuit{client: server.Client()}
	a := New(landing, captcha.NoneSolver{}, fc, nil, nil, nil, "")

	urls := collect(t, a.Produce(context.Background(), 3, 0))
	assert.Len(t, urls, 3)
	assert.Equal(t, 3, int(a.Stats().OK))
	// One rotation precedes each of the 2nd and 3rd attempts; the 3rd
	// attempt's own rotation is never performed since it satisfies the
	// target and no further attempt will use it.
	assert.Equal(t, 2, fc.rotations)
}

func TestRateLimitThenSuccess(t *testing.T) {
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			fmt.Fprint(w, `limit-exceeded`)
			return
		}
		fmt.Fprintf(w, `{"afterDownloadUrl":true,"slowDownloadLink":"https://example.com/dl?tm=%d"}`, time.Now().Add(time.Hour).Unix())
	}))
	defer server.Close()

	landing := model.LandingInfo{IsDirectDownload: true, SlowDownloadURL: server.URL}
	fc := &fakeCircuit{client: server.Client()}
	a := New(landing, captcha.NoneSolver{}, fc, nil, nil, nil, "")

	urls := collect(t, a.Produce(context.Background(), 1, 0))
	assert.Len(t, urls, 1)
	stats := a.Stats()
	assert.Equal(t, 1, stats.Limited)
	assert.Equal(t, 1, stats.OK)
}

func TestFormErrorDoesNotRotate(t *testing.T) {
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt <= 2 {
			fmt.Fprint(w, `formErrorContent`)
			return
		}
		fmt.Fprintf(w, `{"afterDownloadUrl":true,"slowDownloadLink":"https://example.com/dl?tm=%d"}`, time.Now().Add(time.Hour).Unix())
	}))
	defer server.Close()

	landing := model.LandingInfo{IsDirectDownload: true, SlowDownloadURL: server.URL}
	fc := &fakeCircuit{client: server.Client()}
	a := New(landing, captcha.NoneSolver{}, fc, nil, nil, nil, "")

	urls := collect(t, a.Produce(context.Background(), 1, 0))
	assert.Len(t, urls, 1)
	assert.Equal(t, 0, fc.rotations)
	stats := a.Stats()
	assert.Equal(t, 2, stats.Bad)
}

func TestCancellationStopsProduction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `blocked`)
	}))
	defer server.Close()

	landing := model.LandingInfo{IsDirectDownload: true, SlowDownloadURL: server.URL}
	fc := &fakeCircuit{client: server.Client()}
	a := New(landing, captcha.NoneSolver{}, fc, nil, nil, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.Produce(ctx, 1000, 0)
	cancel()

	for range ch {
	}
	require.LessOrEqual(t, int(a.Stats().All), 1000)
}

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatal("timed out waiting for acquirer output")
			return nil
		}
	}
}
