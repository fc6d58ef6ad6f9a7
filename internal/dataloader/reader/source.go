// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reader

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// openFunc opens the payload of e and reports its size.
type openFunc func(ctx context.Context, e entry) (io.ReadCloser, int, error)

// source implements Reader on top of a catalog and an openFunc. Concrete
// readers only supply the listing and the open step.
type source struct {
	catalog

	open    openFunc
	cur     io.ReadCloser
	curSize int
	// cancel ends the fetch context of cur. Remote bodies are streamed, so
	// the context lives until Close.
	cancel  context.CancelFunc
	lastID  string
	lastLoc string

	// release frees clients created by Initialize.
	release func() error
}

func (s *source) Count() int { return s.count() }

func (s *source) Open() (int, error) {
	_ = s.Close()
	e, ok := s.next()
	if !ok {
		return 0, ErrNoItems
	}
	s.lastID = e.Name
	s.lastLoc = e.Locator

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	rc, size, err := s.open(ctx, e)
	if err != nil {
		cancel()
		return 0, errors.Wrapf(err, "open %s", e.Locator)
	}
	if size == 0 {
		_ = rc.Close()
		cancel()
		return 0, nil
	}
	s.cur, s.curSize, s.cancel = rc, size, cancel
	return size, nil
}

func (s *source) ReadData(p []byte) (int, error) {
	if s.cur == nil {
		return 0, nil
	}
	n := len(p)
	if n > s.curSize {
		n = s.curSize
	}
	got, err := io.ReadFull(s.cur, p[:n])
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return got, err
}

func (s *source) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cancel()
	s.cur, s.curSize, s.cancel = nil, 0, nil
	return err
}

// Release closes the open sample and the clients the reader created. The
// reader must not be used afterwards.
func (s *source) Release() error {
	err := s.Close()
	if s.release != nil {
		if rerr := s.release(); err == nil {
			err = rerr
		}
		s.release = nil
	}
	return err
}

func (s *source) ID() string { return s.lastID }

func (s *source) Path() string { return s.lastLoc }

func (s *source) Reset() {
	_ = s.Close()
	s.reset()
}

func (s *source) LastBatchPaddedSize() int { return s.lastBatchPadded() }

// baseName strips directories from a locator, for both file paths and
// object keys.
func baseName(locator string) string {
	return path.Base(strings.ReplaceAll(locator, `\`, "/"))
}
