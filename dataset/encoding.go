package dataset

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// FileEncoding is one detected encoding candidate.
type FileEncoding struct {
	Encoding   string
	Confidence int
	Language   string
}

// DetectFileEncodings detects candidate encodings for a file, ordered by
// confidence. Detection runs in its own goroutine so a ctx deadline bounds
// the time spent on large files.
func DetectFileEncodings(ctx context.Context, path string) ([]FileEncoding, error) {
	type result struct {
		encodings []FileEncoding
		err       error
	}
	ch := make(chan result, 1)

	go func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			ch <- result{err: err}
			return
		}
		detected, err := chardet.NewTextDetector().DetectAll(raw)
		if err != nil {
			ch <- result{err: fmt.Errorf("%w: %s", ErrEncodingDetection, path)}
			return
		}
		encodings := make([]FileEncoding, 0, len(detected))
		for _, d := range detected {
			if d.Charset == "" {
				continue
			}
			encodings = append(encodings, FileEncoding{
				Encoding:   d.Charset,
				Confidence: d.Confidence,
				Language:   d.Language,
			})
		}
		ch <- result{encodings: encodings}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.encodings) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEncodingDetection, path)
		}
		return res.encodings, nil
	}
}

// decodeBytes converts raw bytes from the named charset to UTF-8.
func decodeBytes(raw []byte, charset string) ([]byte, error) {
	enc, err := encodingByName(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Bytes(raw)
}

// encodingByName maps a detector charset name to an x/text encoding.
// Detector names are close to WHATWG labels; the few spelling differences
// are normalized here. UTF-32 and the ISO-2022 CJK encodings have no
// decoder in x/text and are reported as unsupported.
func encodingByName(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "gb-18030" {
		label = "gb18030"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}
