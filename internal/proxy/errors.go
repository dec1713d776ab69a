package proxy

import "errors"

var (
	// ErrEmptyFile is returned by LoadFile when the file lists no proxies.
	ErrEmptyFile = errors.New("proxy: file contains no proxies")

	// ErrInvalidProxy is returned for entries that are not proxy URLs.
	ErrInvalidProxy = errors.New("proxy: invalid proxy URL")
)
