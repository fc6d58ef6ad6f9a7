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
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FileReader reads samples from a directory tree or a file list.
//
// Without a file list, regular files directly under Path are used; when Path
// holds no such files, each sub-directory (sorted by name) is scanned one
// level deep instead, which matches the usual one-folder-per-class layout.
type FileReader struct {
	source
}

// NewFileReader returns an uninitialized file reader.
func NewFileReader() *FileReader {
	r := &FileReader{}
	r.open = openFile
	return r
}

func (r *FileReader) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	var entries []entry
	if cfg.FileListPath != "" {
		entries, err = listFromFile(cfg)
	} else {
		entries, err = listDirectory(cfg.Path, cfg.Extensions)
	}
	if err != nil {
		return err
	}
	r.init(cfg, entries)
	return nil
}

func openFile(_ context.Context, e entry) (io.ReadCloser, int, error) {
	f, err := os.Open(e.Locator)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, int(st.Size()), nil
}

func listDirectory(root string, exts []string) ([]entry, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %s", root)
	}
	files := filesIn(root, dirents, exts)
	if len(files) > 0 {
		return files, nil
	}
	var out []entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		sub := filepath.Join(root, d.Name())
		subents, err := os.ReadDir(sub)
		if err != nil {
			return nil, errors.Wrapf(err, "reading directory %s", sub)
		}
		out = append(out, filesIn(sub, subents, exts)...)
	}
	return out, nil
}

// filesIn keeps the regular files of dir with a supported extension. ReadDir
// already sorts by name.
func filesIn(dir string, dirents []os.DirEntry, exts []string) []entry {
	var out []entry
	for _, d := range dirents {
		if !d.Type().IsRegular() || !supported(d.Name(), exts) {
			continue
		}
		out = append(out, entry{Name: d.Name(), Locator: filepath.Join(dir, d.Name())})
	}
	return out
}

// listFromFile reads one path per line. Anything after the first space (a
// label, usually) is ignored and relative paths are resolved against Path.
func listFromFile(cfg Config) ([]entry, error) {
	f, err := os.Open(cfg.FileListPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening file list %s", cfg.FileListPath)
	}
	defer f.Close()

	var out []entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p := strings.Fields(line)[0]
		if !filepath.IsAbs(p) {
			if cfg.Path == "" {
				return nil, errors.Errorf("file list entry %q is relative but no root path is set", p)
			}
			p = filepath.Join(cfg.Path, p)
		}
		st, err := os.Stat(p)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		out = append(out, entry{Name: filepath.Base(p), Locator: p})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning file list")
	}
	return out, nil
}

// sortEntries orders entries by locator.
func sortEntries(es []entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Locator < es[j].Locator })
}
