//go:build !linux

package main

import "errors"

// watchFile is only implemented on Linux; elsewhere PREVIEW_WATCH is
// reported as unavailable and the preview runs without live reload.
func watchFile(path string, onChange func()) (func() error, error) {
	return nil, errors.New("file watching is not supported on this platform")
}
