// util/resources.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Unfortunately, unlike io.ReadCloser, the zstd Decoder's Close() method
// doesn't return an error, so we need to make our own custom ReadCloser
// interface.
type ResourceReadCloser interface {
	io.Reader
	Close()
}

type fileReadCloser struct {
	*bufio.Reader
	f *os.File
}

func (f fileReadCloser) Close() { f.f.Close() }

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() {
	z.Decoder.Close()
	z.f.Close()
}

// OpenResource opens the given file for reading; if it's zstd compressed,
// the Reader will handle decompression transparently.
func OpenResource(path string) (ResourceReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if filepath.Ext(path) == ".zst" {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
		if err != nil {
			f.Close()
			return nil, err
		}
		return zstdReadCloser{Decoder: zr, f: f}, nil
	}

	return fileReadCloser{Reader: bufio.NewReader(f), f: f}, nil
}

// ResourceExists returns true if the specified file exists and can be
// opened.
func ResourceExists(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
