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

package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

// fakeOrch serves names in order, batch samples per Load. Sample i of the
// epoch is written as the single byte i at the start of its slot area.
type fakeOrch struct {
	mu     sync.Mutex
	names  []string
	batch  int
	sample int
	cursor int
	padded int
	fail   decode.Status
	block  chan struct{}
	timing decode.Timing
	resets   int
	releases int
}

func (o *fakeOrch) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.names) - o.cursor
}

func (o *fakeOrch) Reset() {
	o.mu.Lock()
	o.cursor = 0
	o.resets++
	o.mu.Unlock()
}

func (o *fakeOrch) Load(dst memory.Handle, info *buffer.BatchInfo) decode.Status {
	if o.block != nil {
		<-o.block
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != decode.StatusOK {
		return o.fail
	}
	if len(o.names) == 0 {
		return decode.StatusNoFiles
	}
	if o.cursor+o.batch > len(o.names) {
		return decode.StatusNoMoreData
	}
	info.Reset()
	for i := 0; i < o.batch; i++ {
		idx := o.cursor + i
		info.Names = append(info.Names, o.names[idx])
		info.ROIWidth = append(info.ROIWidth, uint32(i+1))
		info.ROIHeight = append(info.ROIHeight, 1)
		if err := dst.WriteAt([]byte{byte(idx)}, i*o.sample); err != nil {
			return decode.StatusDecodeFailed
		}
	}
	o.cursor += o.batch
	return decode.StatusOK
}

func (o *fakeOrch) Timing() decode.Timing {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timing
}

func (o *fakeOrch) LastBatchPaddedSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.padded
}

func (o *fakeOrch) Release() error {
	o.mu.Lock()
	o.releases++
	o.mu.Unlock()
	return nil
}

func (o *fakeOrch) released() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.releases
}

func (o *fakeOrch) setFail(st decode.Status) {
	o.mu.Lock()
	o.fail = st
	o.mu.Unlock()
}

// fakeModality hands out orchestrators built per reader config and records
// every config it saw.
type fakeModality struct {
	mu    sync.Mutex
	build func(rc reader.Config) (*fakeOrch, error)
	seen  []reader.Config
	built map[int]*fakeOrch
}

func (m *fakeModality) Name() string { return "fake" }

func (m *fakeModality) NewOrchestrator(rc reader.Config, _ decode.Config, out tensor.Info, _ bool) (Orchestrator, error) {
	o, err := m.build(rc)
	if err != nil {
		return nil, err
	}
	o.batch = rc.BatchCount
	o.sample = out.SampleSize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, rc)
	if m.built == nil {
		m.built = make(map[int]*fakeOrch)
	}
	m.built[rc.ShardID] = o
	return o, nil
}

func (m *fakeModality) ROI(info buffer.BatchInfo) ([]uint32, []uint32) {
	return info.ROIWidth, info.ROIHeight
}

func (m *fakeModality) orch(shard int) *fakeOrch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.built[shard]
}

func staticModality(names ...string) *fakeModality {
	return &fakeModality{build: func(reader.Config) (*fakeOrch, error) {
		return &fakeOrch{names: names}, nil
	}}
}

func sampleNames(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

// newSink returns a batch x 4 byte tensor.
func newSink(t *testing.T, batch int, kind memory.Kind) *tensor.Tensor {
	t.Helper()
	s, err := tensor.New(tensor.Info{Dims: []int{batch, 4}, Type: tensor.Uint8, Layout: tensor.NX, Memory: kind})
	require.NoError(t, err)
	return s
}

func fastRetry() Option { return WithRetryDelay(5 * time.Millisecond) }
