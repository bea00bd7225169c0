// Package acquirer implements C4, the link acquirer: a producer task that
// drives the circuit client and the CAPTCHA solver to mint a bounded
// sequence of valid download URLs, classifying every HTTP response by the
// exact substrings spec.md §6 pins and keeping the run's Statistics.
package acquirer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/uloget/uloget/internal/captcha"
	"github.com/uloget/uloget/internal/config"
	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/filetype"
	"github.com/uloget/uloget/internal/linkcache"
	"github.com/uloget/uloget/internal/logging"
	"github.com/uloget/uloget/internal/model"
)

// hiddenFormFields are the six fields the CAPTCHA form POST must echo
// back, grounded in page.py's captcha_download_links_generator.
var hiddenFormFields = []string{"_token_", "timestamp", "salt", "hash", "captcha_type", "_do"}

var (
	captchaImageRegex = regexp.MustCompile(`(?is)<img class="xapca-image" src="([^"]*)" alt="">`)
	hiddenFieldRegexFor = func(field string) *regexp.Regexp {
		return regexp.MustCompile(`(?is)name="` + regexp.QuoteMeta(field) + `" value="([^"]*)"`)
	}
)

const (
	tokenAfterDownloadURL = "afterDownloadUrl"
	tokenLimitExceeded    = "limit-exceeded"
	tokenBlocked          = "blocked"
	tokenFormError        = "formErrorContent"

	directFailuresBeforeDegrade = 3
)

// Circuit is the subset of circuit.Client's behavior the acquirer needs,
// kept as an interface so tests can substitute a fake without a real
// SOCKS5 proxy.
type Circuit interface {
	EnsureRunning(ctx context.Context) error
	NewIdentity(ctx context.Context) error
	Proxied() (*http.Client, error)
}

// Acquirer drives link acquisition against one LandingInfo.
type Acquirer struct {
	landing  model.LandingInfo
	solver   captcha.Solver
	circuit  Circuit
	cache    *linkcache.Cache
	runtime  *config.RuntimeConfig
	log      *logging.Logger
	password string

	stats model.Statistics
}

func New(landing model.LandingInfo, solver captcha.Solver, circ Circuit, cache *linkcache.Cache, runtime *config.RuntimeConfig, log *logging.Logger, password string) *Acquirer {
	return &Acquirer{landing: landing, solver: solver, circuit: circ, cache: cache, runtime: runtime, log: log, password: password}
}

func (a *Acquirer) Stats() model.Statistics { return a.stats.Snapshot() }

// Produce returns a channel of valid URLs. It closes the channel once
// linksProduced+alreadyDownloaded reaches target or ctx is cancelled. The
// caller is responsible for stopping consumption once target is reached;
// Produce stops emitting once it observes that count itself too, so
// either side can end the sequence first.
func (a *Acquirer) Produce(ctx context.Context, target, alreadyDownloaded int) <-chan string {
	out := make(chan string)
	go a.run(ctx, target, alreadyDownloaded, out)
	return out
}

func (a *Acquirer) run(ctx context.Context, target, alreadyDownloaded int, out chan<- string) {
	defer close(out)

	linksProduced := 0

	// 1. Drain the link cache first.
	if a.cache != nil {
		valid, err := a.cache.GetAllValid()
		if err == nil {
			for _, u := range valid {
				if linksProduced+alreadyDownloaded >= target {
					return
				}
				select {
				case out <- u:
					linksProduced++
				case <-ctx.Done():
					return
				}
			}
		}
	}

	useDirect := a.landing.IsDirectDownload
	consecutiveDirectFailures := 0

	// pendingRotate carries the previous attempt's rotate decision into
	// this iteration's pre-check: a formErrorContent response never sets
	// it, and it is only acted on if another attempt is actually about to
	// happen, so the final attempt of a run never pays for a rotation
	// nothing will use.
	pendingRotate := false

	for linksProduced+alreadyDownloaded < target {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.circuit.EnsureRunning(ctx); err != nil {
			a.logf(logging.Error, "circuit not available: %v", err)
			return
		}
		if pendingRotate {
			if err := a.circuit.NewIdentity(ctx); err != nil {
				a.logf(logging.Warning, "identity rotation failed: %v", err)
			}
			pendingRotate = false
		}

		client, err := a.circuit.Proxied()
		if err != nil {
			a.logf(logging.Error, "proxied client unavailable: %v", err)
			return
		}

		if a.landing.NeedPassword && a.password != "" {
			_ = a.submitPassword(client)
		}

		var link string
		var rotate, retrySame bool

		if useDirect && a.landing.SlowDownloadURL != "" {
			link, rotate, retrySame = a.attemptDirect(ctx, client)
			if link == "" && !retrySame {
				consecutiveDirectFailures++
				if consecutiveDirectFailures >= directFailuresBeforeDegrade {
					useDirect = false
				}
			} else if link != "" {
				consecutiveDirectFailures = 0
			}
		} else {
			if a.solver.CannotSolve() {
				a.logf(logging.Error, "captcha required but no solver is available")
				return
			}
			link, rotate, retrySame = a.attemptCaptcha(ctx, client)
		}
		_ = retrySame

		a.stats.IncrAll()

		if link != "" {
			if a.cache != nil {
				_ = a.cache.Append(link)
			}
			select {
			case out <- link:
				linksProduced++
			case <-ctx.Done():
				return
			}
		}

		pendingRotate = rotate
	}
}

// attemptDirect GETs the CAPTCHA-free slow-direct URL and classifies it.
func (a *Acquirer) attemptDirect(ctx context.Context, client *http.Client) (link string, rotate, retrySame bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.landing.SlowDownloadURL, nil)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	return a.classify(body)
}

// attemptCaptcha GETs the CAPTCHA challenge, solves it, and POSTs the
// answer, grounded in page.py's captcha_download_links_generator.
func (a *Acquirer) attemptCaptcha(ctx context.Context, client *http.Client) (link string, rotate, retrySame bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.landing.CaptchaURL, nil)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	resp, err := client.Do(req)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}

	text := string(body)
	m := captchaImageRegex.FindStringSubmatch(text)
	if m == nil {
		a.stats.IncrNet()
		return "", true, false
	}
	imageURL := m[1]

	if imgResp, err := client.Get(imageURL); err == nil {
		imgBody, readErr := io.ReadAll(imgResp.Body)
		imgResp.Body.Close()
		if readErr == nil && !filetype.IsImage(imgBody) {
			a.logf(logging.Warning, "captcha url %s did not return image bytes", imageURL)
			a.stats.IncrNet()
			return "", true, false
		}
	}

	if a.solver.CannotSolve() {
		a.logf(logging.Error, "no captcha solver available for %s", imageURL)
		return "", false, false
	}

	answer, err := a.solver.Solve(ctx, imageURL)
	if err != nil {
		a.logf(logging.Error, "captcha solve failed: %v", err)
		return "", false, false
	}

	form := url.Values{}
	form.Set("captcha_value", answer)
	for _, field := range hiddenFormFields {
		if fm := hiddenFieldRegexFor(field).FindStringSubmatch(text); fm != nil {
			form.Set(field, fm[1])
		}
	}

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.landing.CaptchaURL, strings.NewReader(form.Encode()))
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	postReq.Header.Set("Accept-Encoding", "gzip")

	postResp, err := client.Do(postReq)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	defer postResp.Body.Close()

	respBody, err := io.ReadAll(postResp.Body)
	if err != nil {
		a.stats.IncrNet()
		return "", true, false
	}
	return a.classify(respBody)
}

// classify implements the bit-exact substring classification of spec.md
// §4.4/§6: afterDownloadUrl -> ok; limit-exceeded -> limited+rotate;
// blocked -> blocked+rotate; formErrorContent -> bad, no rotate;
// otherwise -> net+rotate.
func (a *Acquirer) classify(body []byte) (link string, rotate, retrySame bool) {
	text := string(body)
	switch {
	case strings.Contains(text, tokenAfterDownloadURL):
		a.stats.IncrOK()
		return extractSlowDownloadLink(body), true, false
	case strings.Contains(text, tokenLimitExceeded):
		a.stats.IncrLimited()
		return "", true, false
	case strings.Contains(text, tokenBlocked):
		a.stats.IncrBlocked()
		return "", true, false
	case strings.Contains(text, tokenFormError):
		a.stats.IncrBad()
		return "", false, true
	default:
		a.stats.IncrNet()
		return "", true, false
	}
}

func extractSlowDownloadLink(body []byte) string {
	var payload struct {
		SlowDownloadLink string `json:"slowDownloadLink"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.SlowDownloadLink != "" {
		return payload.SlowDownloadLink
	}
	return ""
}

// submitPassword POSTs the file's password to the landing page, a
// simplified rendition of the original's enter_password flow (field name
// is service-specific and not pinned by spec.md; "password" is used as a
// reasonable default form field name).
func (a *Acquirer) submitPassword(client *http.Client) error {
	form := url.Values{}
	form.Set("password", a.password)
	resp, err := client.Post(a.landing.PageURL, "application/x-www-form-urlencoded", bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return errs.New(errs.Transport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (a *Acquirer) logf(level logging.Level, format string, args ...any) {
	if a.log == nil {
		return
	}
	a.log.Log(level, fmt.Sprintf(format, args...))
}
