// Package htmlinject rewrites HTML streams so relative URLs resolve against
// the page's original location.
package htmlinject

import (
	"errors"
	"io"
	"sync"

	"golang.org/x/net/html"
)

var errClosed = errors.New("htmlinject: reader closed")

// NewReader returns a stream that yields src unchanged except for a
// <base href="href"> element inserted right after the first <head> start tag.
// Tokenizing stops at that point (or at <body> when the document has no head),
// and the rest of src is copied through untouched. Closing the returned reader
// closes src.
func NewReader(src io.ReadCloser, href string) io.ReadCloser {
	pr, pw := io.Pipe()
	r := &reader{pr: pr, src: src}
	go func() {
		_ = pw.CloseWithError(inject(pw, src, BaseTag(href)))
	}()
	return r
}

// BaseTag renders the element inserted into <head>.
func BaseTag(href string) []byte {
	return []byte(`<base href="` + html.EscapeString(href) + `">`)
}

type reader struct {
	pr   *io.PipeReader
	src  io.ReadCloser
	once sync.Once
	err  error
}

func (r *reader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *reader) Close() error {
	r.once.Do(func() {
		_ = r.pr.CloseWithError(errClosed)
		r.err = r.src.Close()
	})
	return r.err
}

func inject(w io.Writer, src io.Reader, tag []byte) error {
	z := html.NewTokenizer(src)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if raw := z.Raw(); len(raw) > 0 {
				if _, err := w.Write(raw); err != nil {
					return err
				}
			}
			if err := z.Err(); err != io.EOF {
				return err
			}
			return nil
		}

		// Raw must be written before TagName, which lower-cases the buffer in place.
		if _, err := w.Write(z.Raw()); err != nil {
			return err
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, _ := z.TagName()
		switch string(name) {
		case "head":
			if _, err := w.Write(tag); err != nil {
				return err
			}
			return passthrough(w, z, src)
		case "body":
			return passthrough(w, z, src)
		}
	}
}

func passthrough(w io.Writer, z *html.Tokenizer, src io.Reader) error {
	if buf := z.Buffered(); len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	_, err := io.Copy(w, src)
	return err
}
