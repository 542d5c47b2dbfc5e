package service

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/andybalholm/brotli"
)

// inboundBody tags read failures on the client's request body so they can be
// told apart from upstream failures once the transport returns them.
type inboundBody struct {
	rc io.ReadCloser
}

func (b *inboundBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %w", ErrRequestBody, err)
	}
	return n, err
}

func (b *inboundBody) Close() error {
	return b.rc.Close()
}

// requestBody applies the body policy: GET and HEAD never carry a body,
// everything else streams the inbound body through unchanged.
func requestBody(method string, body io.ReadCloser) io.Reader {
	if method == http.MethodGet || method == http.MethodHead {
		return nil
	}
	if body == nil || body == http.NoBody {
		return http.NoBody
	}
	return &inboundBody{rc: body}
}

// decodedBody builds its decoder on the first Read, so an undecodable stream
// fails while relaying rather than before the upstream status is sent. An
// empty body reads as empty whatever its encoding.
type decodedBody struct {
	raw      io.ReadCloser
	encoding string
	open     func(*bufio.Reader) (io.Reader, error)
	dec      io.Reader
	err      error
}

func (d *decodedBody) Read(p []byte) (int, error) {
	if d.dec == nil && d.err == nil {
		br := bufio.NewReader(d.raw)
		if _, err := br.Peek(1); err != nil {
			d.err = err
		} else if d.dec, err = d.open(br); err != nil {
			d.err = d.wrap(err)
		}
	}
	if d.err != nil {
		return 0, d.err
	}
	n, err := d.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, d.wrap(err)
	}
	return n, err
}

func (d *decodedBody) wrap(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamEncoding, d.encoding, err)
}

func (d *decodedBody) Close() error {
	return d.raw.Close()
}

// decodeBody undoes a content-encoding the transport left in place. It
// reports whether the body will be decoded; unknown or stacked encodings are
// returned untouched.
func decodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, bool) {
	var open func(*bufio.Reader) (io.Reader, error)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		open = func(r *bufio.Reader) (io.Reader, error) { return gzip.NewReader(r) }
	case "deflate":
		open = openDeflate
	case "br":
		open = func(r *bufio.Reader) (io.Reader, error) { return brotli.NewReader(r), nil }
	default:
		return body, false
	}
	return &decodedBody{raw: body, encoding: strings.ToLower(strings.TrimSpace(encoding)), open: open}, true
}

// openDeflate accepts both zlib-wrapped and raw DEFLATE streams; servers send
// either under "deflate".
func openDeflate(r *bufio.Reader) (io.Reader, error) {
	if hdr, err := r.Peek(2); err == nil && isZlibHeader(hdr[0], hdr[1]) {
		return zlib.NewReader(r)
	}
	return flate.NewReader(r), nil
}

// isZlibHeader checks the RFC 1950 CMF/FLG pair: method 8 and a check sum
// divisible by 31.
func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// bodyAllowed reports whether a response to method with status can carry a body.
func bodyAllowed(method string, status int) bool {
	switch {
	case method == http.MethodHead:
		return false
	case status >= 100 && status < 200, status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// contentTypeForPath guesses a content type from a URL path's extension.
// Anything that is not a stylesheet or script is assumed to be a page.
func contentTypeForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	default:
		return "text/html"
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
	}
	return mediaType == "text/html"
}
