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

package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

func imageInfo(batch int) tensor.Info {
	return tensor.Info{Dims: []int{batch, 4, 4, 3}, Type: tensor.Uint8, Layout: tensor.NHWC, Color: tensor.RGB24}
}

func memReader(t *testing.T, batch int, samples ...reader.Sample) reader.Reader {
	t.Helper()
	r, err := reader.Build(reader.Config{Storage: reader.Memory, Samples: samples, BatchCount: batch})
	require.NoError(t, err)
	return r
}

func TestImageReadAndDecode_EpochWithPadding(t *testing.T) {
	r := memReader(t, 2,
		reader.Sample{Name: "a", Data: pngOf(t, 2, 2, 1)},
		reader.Sample{Name: "b", Data: pngOf(t, 3, 1, 2)},
		reader.Sample{Name: "c", Data: pngOf(t, 4, 4, 3)},
	)
	o, err := NewImageReadAndDecode(r, Config{NumThreads: 2}, imageInfo(2), false)
	require.NoError(t, err)
	require.Equal(t, 4, o.Count(), "last batch is filled with a copy of c")

	dst := memory.HostHandle(make([]byte, 2*48))
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []string{"a", "b"}, info.Names)
	assert.Equal(t, []uint32{2, 3}, info.ROIWidth)
	assert.Equal(t, []uint32{2, 1}, info.ROIHeight)
	assert.Empty(t, info.AudioSamples)
	assert.Equal(t, byte(2), dst.Bytes()[48+2], "second sample starts one sample area later")

	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []string{"c", "c"}, info.Names)
	assert.Equal(t, StatusNoMoreData, o.Load(dst, &info))

	o.Reset()
	assert.Equal(t, 4, o.Count())
	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []string{"a", "b"}, info.Names)
}

func TestImageReadAndDecode_Statuses(t *testing.T) {
	dst := memory.HostHandle(make([]byte, 48))

	empty, err := NewImageReadAndDecode(memReader(t, 1), Config{}, imageInfo(1), false)
	require.NoError(t, err)
	assert.Equal(t, StatusNoFiles, empty.Load(dst, &buffer.BatchInfo{}))

	bad, err := NewImageReadAndDecode(memReader(t, 1, reader.Sample{Name: "x", Data: []byte("junk")}), Config{}, imageInfo(1), false)
	require.NoError(t, err)
	assert.Equal(t, StatusDecodeFailed, bad.Load(dst, &buffer.BatchInfo{}))

	small, err := NewImageReadAndDecode(memReader(t, 1, reader.Sample{Name: "a", Data: pngOf(t, 1, 1, 0)}), Config{}, imageInfo(1), false)
	require.NoError(t, err)
	assert.Equal(t, StatusDecodeFailed, small.Load(memory.HostHandle(make([]byte, 8)), &buffer.BatchInfo{}))
}

func TestImageReadAndDecode_EmptySampleKeepsName(t *testing.T) {
	o, err := NewImageReadAndDecode(memReader(t, 1, reader.Sample{Name: "blank"}), Config{}, imageInfo(1), false)
	require.NoError(t, err)
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(memory.HostHandle(make([]byte, 48)), &info))
	assert.Equal(t, []string{"blank"}, info.Names)
	assert.Equal(t, []uint32{0}, info.ROIWidth)
}

func TestImageReadAndDecode_InvalidOutput(t *testing.T) {
	r := memReader(t, 1, reader.Sample{Name: "a", Data: []byte{1}})
	bad := imageInfo(1)
	bad.Layout = tensor.NCHW
	_, err := NewImageReadAndDecode(r, Config{}, bad, false)
	assert.Error(t, err)

	bad = imageInfo(1)
	bad.Color = tensor.U8
	_, err = NewImageReadAndDecode(r, Config{}, bad, false)
	assert.Error(t, err)
}

func TestImageReadAndDecode_DeviceSlot(t *testing.T) {
	alloc := memory.NewAllocator(memory.NewSimulatedDevice())
	dst, err := alloc.Alloc(memory.Device, 2*48)
	require.NoError(t, err)

	r := memReader(t, 2,
		reader.Sample{Name: "a", Data: pngOf(t, 2, 2, 9)},
		reader.Sample{Name: "b", Data: pngOf(t, 2, 2, 7)},
	)
	o, err := NewImageReadAndDecode(r, Config{NumThreads: 4}, imageInfo(2), false)
	require.NoError(t, err)
	require.Equal(t, StatusOK, o.Load(dst, &buffer.BatchInfo{}))
	assert.Equal(t, 2, memory.PendingUploads(dst))

	require.NoError(t, dst.Sync())
	got := make([]byte, 2*48)
	_, err = memory.Download(dst, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 9}, got[0:3])
	assert.Equal(t, []byte{0, 0, 7}, got[48:51])
}

type nameCrops struct{}

func (nameCrops) Crops(names []string) [][4]float32 {
	out := make([][4]float32, len(names))
	for i := range names {
		out[i] = [4]float32{float32(i), 0, 1, 1}
	}
	return out
}

func TestImageReadAndDecode_CropProvider(t *testing.T) {
	r := memReader(t, 2, reader.Sample{Name: "a", Data: pngOf(t, 1, 1, 0)}, reader.Sample{Name: "b", Data: pngOf(t, 1, 1, 0)})
	o, err := NewImageReadAndDecode(r, Config{}, imageInfo(2), false)
	require.NoError(t, err)
	o.SetCropProvider(nameCrops{})
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(memory.HostHandle(make([]byte, 96)), &info))
	require.NotNil(t, info.Crop)
	assert.Equal(t, [][4]float32{{0, 0, 1, 1}, {1, 0, 1, 1}}, info.Crop.Coords)
}

func TestSkipDecodeCopiesBytes(t *testing.T) {
	r := memReader(t, 1, reader.Sample{Name: "raw", Data: []byte("encoded")})
	o, err := NewImageReadAndDecode(r, Config{Kind: SkipDecode}, imageInfo(1), false)
	require.NoError(t, err)
	dst := memory.HostHandle(make([]byte, 48))
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, "encoded", string(dst.Bytes()[:7]))
	assert.Equal(t, []uint32{7}, info.ROIWidth)
}

func TestAudioReadAndDecode(t *testing.T) {
	r := memReader(t, 1, reader.Sample{Name: "clip.wav", Data: wavOf(t, 22050, 1, []int{0, 16384})})
	out := tensor.Info{Dims: []int{1, 4, 1}, Type: tensor.Float32, Layout: tensor.NSC}
	o, err := NewAudioReadAndDecode(r, Config{}, out)
	require.NoError(t, err)

	dst := memory.HostHandle(make([]byte, out.DataSize()))
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []uint32{2}, info.AudioSamples)
	assert.Equal(t, []uint32{1}, info.AudioChannels)
	assert.Equal(t, []float32{22050}, info.SampleRates)
	assert.Equal(t, []uint32{2}, info.ROIWidth)
	assert.Equal(t, []float32{0, 0.5}, floatsAt(dst.Bytes(), 2))

	_, err = NewAudioReadAndDecode(r, Config{}, tensor.Info{Dims: []int{1, 4, 1}, Type: tensor.Uint8, Layout: tensor.NSC})
	assert.Error(t, err)
}

func TestArrayReadAndDecode(t *testing.T) {
	r := memReader(t, 2,
		reader.Sample{Name: "short", Data: make([]byte, 8)},
		reader.Sample{Name: "long", Data: make([]byte, 20)},
	)
	out := tensor.Info{Dims: []int{2, 4}, Type: tensor.Float32, Layout: tensor.NX}
	o, err := NewArrayReadAndDecode(r, Config{}, out)
	require.NoError(t, err)
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(memory.HostHandle(make([]byte, out.DataSize())), &info))
	assert.Equal(t, []uint32{2, 4}, info.ROIWidth)
	assert.Equal(t, []uint32{2, 5}, info.OriginalWidth)
}

func TestVideoReadAndDecode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "clip"), 0o755))
	for f := 0; f < 4; f++ {
		p := filepath.Join(dir, "clip", fmt.Sprintf("%03d.png", f))
		require.NoError(t, os.WriteFile(p, pngOf(t, 2, 2, uint8(10*f)), 0o644))
	}
	s, err := reader.BuildSequence(reader.Config{Storage: reader.SequenceFileSystem, Path: dir, BatchCount: 1, SequenceLength: 2})
	require.NoError(t, err)

	out := tensor.Info{Dims: []int{1, 2, 2, 2, 3}, Type: tensor.Uint8, Layout: tensor.NFHWC, Color: tensor.RGB24}
	o, err := NewVideoReadAndDecode(s, Config{}, out, false)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Count())

	dst := memory.HostHandle(make([]byte, out.DataSize()))
	var info buffer.BatchInfo
	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []string{"clip_0"}, info.Names)
	assert.Equal(t, []uint32{2}, info.ROIWidth)
	assert.Equal(t, byte(10), dst.Bytes()[12+2], "second frame area holds frame 1")

	require.Equal(t, StatusOK, o.Load(dst, &info))
	assert.Equal(t, []string{"clip_2"}, info.Names)
	assert.Equal(t, byte(30), dst.Bytes()[12+2])

	wrong := out
	wrong.Dims = []int{1, 3, 2, 2, 3}
	_, err = NewVideoReadAndDecode(s, Config{}, wrong, false)
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "no_more_data", StatusNoMoreData.String())
	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "status(99)", Status(99).String())
}
