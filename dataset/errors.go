package dataset

import "errors"

var (
	// ErrInvalidFileURI means the URI does not use the file scheme.
	ErrInvalidFileURI = errors.New("invalid file URI")
	// ErrNonAbsoluteURI means the file URI resolved to a relative path.
	ErrNonAbsoluteURI = errors.New("file URI is not absolute")
	// ErrUnsupportedFormat means the file extension has no reader.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnsupportedEncoding means no detected encoding could decode the file.
	ErrUnsupportedEncoding = errors.New("unsupported file encoding")
	// ErrEncodingDetection means detection produced no usable candidates.
	ErrEncodingDetection = errors.New("could not detect file encoding")
	// ErrEmptyTable means the file parsed but contained no rows at all.
	ErrEmptyTable = errors.New("table has no content")
)
