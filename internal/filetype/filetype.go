// Package filetype sniffs magic bytes to sanity-check that a CAPTCHA
// challenge response is actually image data before handing it to a
// solver, rather than an HTML error page saved under an image content
// type.
package filetype

import "github.com/h2non/filetype"

// IsImage reports whether buf's magic bytes identify it as an image.
func IsImage(buf []byte) bool {
	return filetype.IsImage(buf)
}
