package books

import "errors"

var (
	// ErrListerUnavailable indicates the cache has nothing to fetch from.
	ErrListerUnavailable = errors.New("book lister unavailable")
	// ErrNotPDF indicates the file is neither named nor shaped like a PDF.
	ErrNotPDF = errors.New("file is not a PDF")
	// ErrTooLarge indicates the file exceeds MaxUploadBytes.
	ErrTooLarge = errors.New("file exceeds the 50MB upload limit")
)
