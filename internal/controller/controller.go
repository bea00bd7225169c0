// Package controller implements C7, the downloader controller: it drives
// a single run end to end -- fetch and parse the landing page, size the
// target, lay out segments, acquire links, spawn workers, and tear
// everything down in the right order. Grounded on the original's
// downloader.py (Downloader.download/terminate) and the teacher's
// manager.go (HEAD/Range probe before segmenting).
package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uloget/uloget/internal/acquirer"
	"github.com/uloget/uloget/internal/captcha"
	"github.com/uloget/uloget/internal/circuit"
	"github.com/uloget/uloget/internal/config"
	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/frontend"
	"github.com/uloget/uloget/internal/linkcache"
	"github.com/uloget/uloget/internal/logging"
	"github.com/uloget/uloget/internal/model"
	"github.com/uloget/uloget/internal/parser"
	"github.com/uloget/uloget/internal/segfile"
	"github.com/uloget/uloget/internal/urlqueue"
	"github.com/uloget/uloget/internal/worker"
)

// Circuit is the subset of circuit.Client the controller needs, kept as
// an interface so it can be swapped in tests without a real Tor process.
type Circuit interface {
	EnsureRunning(ctx context.Context) error
	NewIdentity(ctx context.Context) error
	Proxied() (*http.Client, error)
	Stop() error
}

var _ Circuit = (*circuit.Client)(nil)

// Request describes one download run.
type Request struct {
	URL        string
	OutputDir  string
	OutputFile string // overrides the parsed filename when set
	Parts      int
	Overwrite  bool
	Password   string

	Runtime *config.RuntimeConfig
	Log     *logging.Logger

	Solver   captcha.Solver
	Circuit  Circuit
	Parser   parser.Parser
	Frontend frontend.Frontend
}

// Result summarizes a completed run.
type Result struct {
	OutputPath string
	TotalSize  int64
	Elapsed    time.Duration
}

// Controller runs one download end to end.
type Controller struct{}

func New() *Controller { return &Controller{} }

// Run fetches req.URL's landing page, segments the target file, and
// drives link acquisition and part workers until the file is complete or
// ctx is cancelled. Cancellation order on the way out is always: stop
// acquiring links, stop the circuit, then stop the frontend last, so the
// frontend can still render the final state.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	landing, err := fetchLanding(ctx, req.URL, req.Runtime, req.Parser)
	if err != nil {
		return Result{}, err
	}

	filename := req.OutputFile
	if filename == "" {
		filename = landing.Filename
	}
	if filename == "" {
		filename = "download"
	}
	outputPath := filepath.Join(req.OutputDir, filename)

	if !req.Overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			return Result{}, errs.New(errs.IO, fmt.Errorf("output file already exists: %s", outputPath))
		}
	}

	frontendCtx, stopFrontend := context.WithCancel(context.Background())
	frontendDone := make(chan struct{})
	go func() {
		defer close(frontendDone)
		if req.Frontend != nil {
			_ = req.Frontend.Run(frontendCtx)
		}
	}()
	defer func() {
		stopFrontend()
		<-frontendDone
	}()

	parts := req.Parts
	if parts <= 0 {
		parts = req.Runtime.GetParts()
	}

	var result Result
	if landing.QuickDownloadURL != "" {
		result, err = c.runQuick(ctx, req, landing, outputPath)
	} else {
		result, err = c.runCircuit(ctx, req, landing, outputPath, parts)
	}
	result.Elapsed = time.Since(start)
	return result, err
}

// runQuick handles the logged-in fast-download path: a single
// authenticated URL, no circuit rotation, a single segment.
func (c *Controller) runQuick(ctx context.Context, req Request, landing model.LandingInfo, outputPath string) (Result, error) {
	client := &http.Client{Timeout: req.Runtime.GetConnTimeout()}

	size, err := headSize(ctx, client, landing.QuickDownloadURL, req.Runtime)
	if err != nil {
		return Result{}, err
	}

	j, err := segfile.Open(outputPath, size, 1)
	if err != nil {
		return Result{}, err
	}
	defer j.Close()

	writer, err := j.Writer(0)
	if err != nil {
		return Result{}, err
	}

	part := &model.DownloadPart{Segment: writer.Segment()}
	c.reportProgress(ctx, req, []*model.DownloadPart{part}, model.Statistics{}, size, j)

	if err := worker.Run(ctx, client, part, writer, nil, req.Runtime, landing.QuickDownloadURL); err != nil {
		return Result{}, err
	}

	j.Delete()
	return Result{OutputPath: outputPath, TotalSize: size}, nil
}

// runCircuit handles the captcha / slow-direct path: links are minted
// through the circuit+acquirer and fanned out to a pool of part workers.
func (c *Controller) runCircuit(ctx context.Context, req Request, landing model.LandingInfo, outputPath string, parts int) (Result, error) {
	if err := req.Circuit.EnsureRunning(ctx); err != nil {
		return Result{}, err
	}
	defer req.Circuit.Stop()

	firstClient, err := req.Circuit.Proxied()
	if err != nil {
		return Result{}, err
	}

	cache := linkcache.New(outputPath, req.Runtime.GetSafetyMargin())

	acq := acquirer.New(landing, req.Solver, req.Circuit, cache, req.Runtime, req.Log, req.Password)

	firstLinks := acq.Produce(ctx, 1, 0)
	firstURL, ok := <-firstLinks
	if !ok {
		return Result{}, errs.New(errs.Transport, fmt.Errorf("could not acquire any download link"))
	}

	size, err := headSize(ctx, firstClient, firstURL, req.Runtime)
	if err != nil {
		return Result{}, err
	}

	j, err := segfile.Open(outputPath, size, parts)
	if err != nil {
		return Result{}, err
	}
	defer j.Close()

	segs := j.Segments()
	dlParts := make([]*model.DownloadPart, len(segs))
	writers := make([]*segfile.SegmentWriter, len(segs))
	incomplete := 0
	for i, seg := range segs {
		w, err := j.Writer(seg.Index)
		if err != nil {
			return Result{}, err
		}
		writers[i] = w
		dlParts[i] = &model.DownloadPart{Segment: seg}
		if !w.Done() {
			incomplete++
		}
	}

	queue := urlqueue.New()
	queue.Put(firstURL)

	runCtx, cancelAcquire := context.WithCancel(ctx)
	remaining := acq.Produce(runCtx, incomplete, 1)
	go func() {
		for link := range remaining {
			queue.Put(link)
		}
	}()

	// A worker parked in queue.Take() waiting for its first URL would
	// otherwise never wake up on cancellation: Produce stops emitting, but
	// nothing closes queue until every worker has already returned. Close
	// is idempotent, so this races harmlessly with the Close below.
	go func() {
		<-ctx.Done()
		queue.Close()
	}()

	var wg sync.WaitGroup
	for i, seg := range segs {
		if writers[i].Done() {
			dlParts[i].SetStatus(model.PartCompleted, "resumed complete", nil)
			continue
		}
		wg.Add(1)
		go func(i int, seg model.Segment) {
			defer wg.Done()
			url, ok := queue.Take()
			if !ok {
				dlParts[i].SetStatus(model.PartWaiting, "no link available", nil)
				return
			}
			if err := worker.Run(runCtx, firstClient, dlParts[i], writers[i], queue, req.Runtime, url); err != nil {
				dlParts[i].SetStatus(model.PartError, "worker failed", err)
			}
		}(i, seg)
	}

	stopReporting := c.reportProgressLoop(runCtx, req, dlParts, acq, size, j)
	wg.Wait()
	stopReporting()

	cancelAcquire()
	queue.Close()

	if partsFailed(dlParts) {
		return Result{OutputPath: outputPath, TotalSize: size}, errs.New(errs.IO, fmt.Errorf("one or more parts failed"))
	}

	j.Delete()
	cache.Delete()
	return Result{OutputPath: outputPath, TotalSize: size}, nil
}

func partsFailed(parts []*model.DownloadPart) bool {
	for _, p := range parts {
		if p.Snapshot().Status == model.PartError {
			return true
		}
	}
	return false
}

// reportProgress pushes one Update to the frontend.
func (c *Controller) reportProgress(ctx context.Context, req Request, parts []*model.DownloadPart, stats model.Statistics, total int64, j *segfile.Journal) {
	if req.Frontend == nil {
		return
	}
	snaps := make([]model.Snapshot, len(parts))
	for i, p := range parts {
		snaps[i] = p.Snapshot()
	}
	req.Frontend.Update(snaps, stats, total, j.DownloadedBytes())
}

// reportProgressLoop ticks reportProgress until the returned stop func is
// called.
func (c *Controller) reportProgressLoop(ctx context.Context, req Request, parts []*model.DownloadPart, acq *acquirer.Acquirer, total int64, j *segfile.Journal) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.reportProgress(ctx, req, parts, acq.Stats(), total, j)
			case <-done:
				c.reportProgress(ctx, req, parts, acq.Stats(), total, j)
				return
			}
		}
	}()
	return func() { close(done) }
}

// fetchLanding GETs the landing page over a plain (non-proxied) client
// and parses it. p defaults to the regex parser when nil.
func fetchLanding(ctx context.Context, pageURL string, runtime *config.RuntimeConfig, p parser.Parser) (model.LandingInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return model.LandingInfo{}, errs.New(errs.Parse, err)
	}
	req.Header.Set("User-Agent", runtime.GetUserAgent())

	client := &http.Client{Timeout: runtime.GetConnTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return model.LandingInfo{}, errs.New(errs.Transport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.LandingInfo{}, errs.New(errs.IO, err)
	}

	if p == nil {
		p = parser.New()
	}
	return p.Parse(body, pageURL)
}

// headSize issues a HEAD request to determine the target's total size.
func headSize(ctx context.Context, client *http.Client, url string, runtime *config.RuntimeConfig) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, errs.New(errs.Transport, err)
	}
	req.Header.Set("User-Agent", runtime.GetUserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return 0, errs.New(errs.Transport, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength <= 0 {
		return 0, errs.New(errs.Transport, fmt.Errorf("server did not report a content length"))
	}
	return resp.ContentLength, nil
}
