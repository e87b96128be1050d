// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package results

import (
	"encoding/json"
	"io"
	"os"
)

// StreamWriter writes a stream of newline-separated JSON-marshaled Records
// to a file as the run progresses, so partial results survive if the process
// dies mid-run.
type StreamWriter struct {
	f          *os.File
	enc        *json.Encoder
	lastOffset int64 // file offset of the start of the last-written record
}

// NewStreamWriter creates and returns a new StreamWriter for writing to a
// file at path p. If the file already exists, new records are appended to it.
func NewStreamWriter(p string) (*StreamWriter, error) {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	eof, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &StreamWriter{f: f, enc: json.NewEncoder(f), lastOffset: eof}, nil
}

// Write writes the JSON-marshaled representation of rec to the file.
// If update is true, the previous record that was written by this instance
// is overwritten. Concurrent calls are not supported; the aggregator
// serializes its writes.
func (w *StreamWriter) Write(rec *Record, update bool) error {
	var err error
	if update {
		// If we're replacing the last record, seek back to the beginning of
		// it and leave the saved offset unmodified.
		if _, err = w.f.Seek(w.lastOffset, io.SeekStart); err != nil {
			return err
		}
		if err = w.f.Truncate(w.lastOffset); err != nil {
			return err
		}
	} else {
		// Otherwise, use Seek to record the current offset before we write.
		if w.lastOffset, err = w.f.Seek(0, io.SeekCurrent); err != nil {
			return err
		}
	}
	return w.enc.Encode(rec)
}

// Close closes the underlying file.
func (w *StreamWriter) Close() error {
	return w.f.Close()
}
