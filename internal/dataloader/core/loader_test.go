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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

func startLoader(t *testing.T, l *Loader, batch int) {
	t.Helper()
	require.NoError(t, l.Initialize(reader.Config{}, decode.Config{}, memory.Host, batch, false))
	require.NoError(t, l.StartLoading())
	t.Cleanup(l.ShutDown)
}

func TestLoader_InitializeValidation(t *testing.T) {
	m := staticModality(sampleNames("n", 4)...)

	l := NewLoader(m)
	assert.True(t, errors.Is(l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 2, false), ErrNoOutput))

	l.SetOutput(newSink(t, 2, memory.Host))
	err := l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 3, false)
	assert.True(t, errors.Is(err, ErrBatchExceedsOutput))

	l.SetOutput(newSink(t, 2, memory.Host))
	require.NoError(t, l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 0, false))
	assert.Equal(t, 2, m.seen[0].BatchCount, "batch size taken from the sink")
	assert.Equal(t, Initialized, l.State())
	assert.True(t, errors.Is(l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 2, false), ErrAlreadyInitialized))
	assert.Equal(t, 0, l.Level())
	l.ShutDown()
}

func TestLoader_ZeroOutputSize(t *testing.T) {
	m := staticModality("a")
	l := NewLoader(m)
	zero, err := tensor.New(tensor.Info{Dims: []int{2, 0}, Type: tensor.Uint8, Layout: tensor.NX})
	require.NoError(t, err)
	l.SetOutput(zero)

	err = l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 2, false)
	assert.True(t, errors.Is(err, ErrZeroOutputSize))
	assert.Empty(t, m.seen, "no orchestrator is built")
	assert.Equal(t, Uninitialized, l.State())
	assert.Equal(t, decode.StatusNotInitialized, l.LoadNext())
	assert.True(t, errors.Is(l.StartLoading(), ErrNotInitialized))
	assert.True(t, errors.Is(l.Reset(), ErrNotInitialized))
	_, err = l.LastBatchPaddedSize()
	assert.True(t, errors.Is(err, ErrNotInitialized))
	l.ShutDown()
	l.ShutDown()
}

func TestLoader_EpochAndReset(t *testing.T) {
	m := staticModality(sampleNames("n", 4)...)
	sink := newSink(t, 2, memory.Host)
	l := NewLoader(m, fastRetry())
	l.SetOutput(sink)
	startLoader(t, l, 2)
	assert.Equal(t, Loading, l.State())
	assert.True(t, errors.Is(l.StartLoading(), ErrAlreadyLoading))
	assert.Equal(t, 4, l.RemainingCount())

	m.orch(0).mu.Lock()
	m.orch(0).timing = decode.Timing{ReadTime: 3 * time.Millisecond, DecodeTime: time.Millisecond}
	m.orch(0).mu.Unlock()

	require.Equal(t, decode.StatusOK, l.LoadNext())
	assert.Equal(t, []string{"n0", "n1"}, l.Names())
	assert.Equal(t, []string{"n0", "n1"}, sink.Names())
	assert.Equal(t, uint32(2), sink.ROI()[1].W)
	assert.Equal(t, byte(0), sink.Sample(0)[0])
	assert.Equal(t, byte(1), sink.Sample(1)[0])
	assert.Equal(t, 2, l.RemainingCount())
	assert.Equal(t, 3*time.Millisecond, l.Timing().ReadTime)

	require.Equal(t, decode.StatusOK, l.LoadNext())
	assert.Equal(t, []string{"n2", "n3"}, l.Info().Names)
	assert.Equal(t, byte(2), sink.Sample(0)[0])
	assert.Equal(t, decode.StatusNoMoreData, l.LoadNext())
	first := sampleNames("n", 4)

	require.NoError(t, l.Reset())
	assert.Equal(t, 1, m.orch(0).resets)
	assert.Equal(t, 4, l.RemainingCount())
	var second []string
	for l.RemainingCount() > 0 {
		require.Equal(t, decode.StatusOK, l.LoadNext())
		second = append(second, l.Names()...)
	}
	assert.Equal(t, first, second, "a reset epoch replays the same samples")
	assert.Equal(t, decode.StatusNoMoreData, l.LoadNext())

	padded, err := l.LastBatchPaddedSize()
	require.NoError(t, err)
	assert.Equal(t, 0, padded)

	l.ShutDown()
	l.ShutDown()
	assert.Equal(t, Stopped, l.State())
	assert.Equal(t, 0, l.Level())
	assert.Equal(t, 1, m.orch(0).released(), "reader released once")
	assert.Equal(t, decode.StatusStopped, l.LoadNext())
	assert.Error(t, l.StartLoading())
	assert.True(t, errors.Is(l.Reset(), ErrNotInitialized))
}

func TestLoader_PrefetchKeepsOneSlotFree(t *testing.T) {
	l := NewLoader(staticModality(sampleNames("n", 20)...), fastRetry())
	l.SetOutput(newSink(t, 2, memory.Host))
	require.NoError(t, l.SetPrefetchDepth(3))
	startLoader(t, l, 2)

	assert.Eventually(t, func() bool { return l.Loaded() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), l.Loaded(), "producer waits while capacity-1 batches are ready")
	assert.Equal(t, 2, l.Level())

	require.Equal(t, decode.StatusOK, l.LoadNext())
	assert.Eventually(t, func() bool { return l.Loaded() == 3 && l.Level() == 2 }, time.Second, time.Millisecond)
}

func TestLoader_PrefetchDepthValidation(t *testing.T) {
	m := staticModality("a")
	l := NewLoader(m)
	assert.True(t, errors.Is(l.SetPrefetchDepth(0), ErrInvalidPrefetchDepth))

	require.NoError(t, l.SetPrefetchDepth(1))
	l.SetOutput(newSink(t, 1, memory.Host))
	err := l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 1, false)
	assert.True(t, errors.Is(err, buffer.ErrCapacityTooSmall))
	assert.Equal(t, Uninitialized, l.State())
	assert.Equal(t, 1, m.orch(0).released(), "reader of a failed Initialize is released")
}

func TestLoader_DecodeFailureEndsEpochUntilRecovery(t *testing.T) {
	m := &fakeModality{build: func(reader.Config) (*fakeOrch, error) {
		return &fakeOrch{names: sampleNames("n", 4), fail: decode.StatusDecodeFailed}, nil
	}}
	l := NewLoader(m, fastRetry())
	l.SetOutput(newSink(t, 2, memory.Host))
	startLoader(t, l, 2)

	assert.Equal(t, decode.StatusNoMoreData, l.LoadNext())

	m.orch(0).setFail(decode.StatusOK)
	st := decode.StatusNoMoreData
	for i := 0; i < 200 && st != decode.StatusOK; i++ {
		if st = l.LoadNext(); st != decode.StatusOK {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Equal(t, decode.StatusOK, st)
	assert.Equal(t, []string{"n0", "n1"}, l.Names())
}

func TestLoader_ShutDownReleasesWaitingConsumer(t *testing.T) {
	block := make(chan struct{})
	m := &fakeModality{build: func(reader.Config) (*fakeOrch, error) {
		return &fakeOrch{names: sampleNames("n", 4), block: block}, nil
	}}
	l := NewLoader(m, fastRetry())
	l.SetOutput(newSink(t, 2, memory.Host))
	startLoader(t, l, 2)

	got := make(chan decode.Status, 1)
	go func() { got <- l.LoadNext() }()
	time.Sleep(20 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	l.ShutDown()

	select {
	case st := <-got:
		assert.Equal(t, decode.StatusStopped, st)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer still blocked after shutdown")
	}
}

func TestLoader_SwapFailureKeepsBatch(t *testing.T) {
	l := NewLoader(staticModality(sampleNames("n", 4)...), fastRetry())
	l.SetOutput(newSink(t, 2, memory.Device))
	startLoader(t, l, 2)

	assert.Equal(t, decode.StatusHostBufferSwapFailed, l.LoadNext())
	assert.GreaterOrEqual(t, l.Level(), 1)
	assert.Empty(t, l.Names())
	assert.Equal(t, 4, l.RemainingCount())
}

func TestLoader_DeviceSlots(t *testing.T) {
	dev := memory.NewSimulatedDevice()
	sink := newSink(t, 2, memory.Device)
	l := NewLoader(staticModality(sampleNames("n", 4)...), fastRetry(), WithAllocator(memory.NewAllocator(dev)))
	l.SetOutput(sink)
	require.NoError(t, l.Initialize(reader.Config{}, decode.Config{}, memory.Device, 2, false))
	require.NoError(t, l.StartLoading())

	require.Equal(t, decode.StatusOK, l.LoadNext())
	h := sink.Handle()
	assert.Equal(t, memory.Device, h.Kind())
	assert.Equal(t, 0, memory.PendingUploads(h), "uploads are synced before the batch is published")
	buf := make([]byte, 8)
	_, err := memory.Download(h, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[0])
	assert.Equal(t, byte(1), buf[4])

	l.ShutDown()
	allocs, frees, syncs := dev.Stats()
	assert.Equal(t, int64(DefaultPrefetchDepth), allocs)
	assert.Equal(t, allocs, frees)
	assert.Positive(t, syncs)
}

func TestLoader_DeviceSwapIntoHostSink(t *testing.T) {
	dev := memory.NewSimulatedDevice()
	l := NewLoader(staticModality(sampleNames("n", 2)...), fastRetry(), WithAllocator(memory.NewAllocator(dev)))
	l.SetOutput(newSink(t, 2, memory.Host))
	require.NoError(t, l.Initialize(reader.Config{}, decode.Config{}, memory.Device, 2, false))
	require.NoError(t, l.StartLoading())
	t.Cleanup(l.ShutDown)

	assert.Equal(t, decode.StatusDeviceBufferSwapFailed, l.LoadNext())
}

// A producer that gives up while the consumer is about to wait must end that
// wait without a retry cycle.
func TestLoader_ExhaustionWakesWaitingConsumer(t *testing.T) {
	block := make(chan struct{})
	m := &fakeModality{build: func(reader.Config) (*fakeOrch, error) {
		return &fakeOrch{names: sampleNames("n", 4), fail: decode.StatusDecodeFailed, block: block}, nil
	}}
	l := NewLoader(m, WithRetryDelay(time.Hour))
	l.SetOutput(newSink(t, 2, memory.Host))
	startLoader(t, l, 2)

	got := make(chan decode.Status, 1)
	go func() { got <- l.LoadNext() }()
	close(block)
	select {
	case st := <-got:
		assert.Equal(t, decode.StatusNoMoreData, st)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer still waiting after the producer gave up")
	}
	assert.Equal(t, decode.StatusNoMoreData, l.LoadNext())
}

// cropRecorder is an orchestrator with crop support.
type cropRecorder struct {
	*fakeOrch
	crop decode.CropProvider
}

func (c *cropRecorder) SetCropProvider(p decode.CropProvider) { c.crop = p }

type fixedCrops struct{}

func (fixedCrops) Crops(names []string) [][4]float32 {
	out := make([][4]float32, len(names))
	for i := range out {
		out[i] = [4]float32{0, 0, 0.5, 0.5}
	}
	return out
}

func TestLoader_CropProviderOption(t *testing.T) {
	rec := &cropRecorder{fakeOrch: &fakeOrch{names: sampleNames("n", 2)}}
	m := &cropModality{fakeModality: staticModality(), orch: rec}
	l := NewLoader(m, WithCropProvider(fixedCrops{}))
	l.SetOutput(newSink(t, 2, memory.Host))
	require.NoError(t, l.Initialize(reader.Config{}, decode.Config{}, memory.Host, 2, false))
	t.Cleanup(l.ShutDown)
	assert.Equal(t, fixedCrops{}, rec.crop)

	// Orchestrators without crop support load as usual.
	plain := NewLoader(staticModality(sampleNames("p", 2)...), fastRetry(), WithCropProvider(fixedCrops{}))
	plain.SetOutput(newSink(t, 2, memory.Host))
	startLoader(t, plain, 2)
	require.Equal(t, decode.StatusOK, plain.LoadNext())
}

// cropModality always hands out the same crop-capable orchestrator.
type cropModality struct {
	*fakeModality
	orch *cropRecorder
}

func (m *cropModality) NewOrchestrator(rc reader.Config, _ decode.Config, out tensor.Info, _ bool) (Orchestrator, error) {
	m.orch.batch = rc.BatchCount
	m.orch.sample = out.SampleSize()
	return m.orch, nil
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "state(9)", State(9).String())
}
