// Package parser implements the out-of-scope landing-page HTML parser
// (spec.md §1: "referenced only by its interface"), with a concrete
// regex-based implementation grounded in the original's page.py and the
// cleaner field-accessor design of scraper.py.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/uloget/uloget/internal/errs"
	"github.com/uloget/uloget/internal/model"
)

// Parser extracts a LandingInfo from a landing page's body.
type Parser interface {
	Parse(body []byte, pageURL string) (model.LandingInfo, error)
}

var (
	titleRegex           = regexp.MustCompile(`(?is)<title>([^|]*)\s+\|.*</title>`)
	quickDownloadRegex   = regexp.MustCompile(`(?is)href="(/quickDownload/[^"]*)"`)
	directDownloadRegex  = regexp.MustCompile(`(?is)data-href="(/download-dialog/free/[^"]+)" +class="[^"]*js-free-download-button-direct[^"]*"`)
	slowDownloadRegex    = regexp.MustCompile(`(?is)data-href="(/download-dialog/free/[^"]*)"`)
	sanitizeFilenameChars = regexp.MustCompile(`[<>:,"/\\|?*]`)
)

// Regexp is the default Parser, grounded directly in page.py's inline
// regex extraction.
type Regexp struct{}

func New() Regexp { return Regexp{} }

func (Regexp) Parse(body []byte, pageURL string) (model.LandingInfo, error) {
	text := string(body)
	info := model.LandingInfo{PageURL: pageURL}

	if m := titleRegex.FindStringSubmatch(text); m != nil {
		info.Filename = sanitizeFilenameChars.ReplaceAllString(strings.TrimSpace(m[1]), "-")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return info, errs.New(errs.Parse, fmt.Errorf("invalid page URL: %w", err))
	}

	if m := quickDownloadRegex.FindStringSubmatch(text); m != nil {
		info.QuickDownloadURL = resolve(base, m[1])
	}

	if m := directDownloadRegex.FindStringSubmatch(text); m != nil {
		info.IsDirectDownload = true
		info.SlowDownloadURL = resolve(base, m[1])
	} else if m := slowDownloadRegex.FindStringSubmatch(text); m != nil {
		info.CaptchaURL = resolve(base, m[1])
	}

	if !info.HasURL() {
		return info, errs.New(errs.Parse, fmt.Errorf("landing page exposes no download URL"))
	}
	return info, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
