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


package benchmarks

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

// pngSamples encodes n w x h gradients as PNG.
func pngSamples(tb testing.TB, n, w, h int) []reader.Sample {
	tb.Helper()
	out := make([]reader.Sample, n)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for p := range img.Pix {
			img.Pix[p] = byte(p*7 + i)
		}
		var buf bytes.Buffer
		require.NoError(tb, png.Encode(&buf, img))
		out[i] = reader.Sample{Name: fmt.Sprintf("img%04d.png", i), Data: buf.Bytes()}
	}
	return out
}

func imageOutput(tb testing.TB, batch, side int) *tensor.Tensor {
	tb.Helper()
	out, err := tensor.New(tensor.Info{Dims: []int{batch, side, side, 3}, Type: tensor.Uint8, Layout: tensor.NHWC, Color: tensor.RGB24})
	require.NoError(tb, err)
	return out
}

func memoryConfig(samples []reader.Sample) reader.Config {
	return reader.Config{Storage: reader.Memory, Samples: samples}
}

func startLoader(tb testing.TB, samples []reader.Sample, out *tensor.Tensor, threads, prefetch int) *core.Loader {
	tb.Helper()
	l := core.NewImageLoader(core.WithRetryDelay(time.Millisecond))
	l.SetOutput(out)
	require.NoError(tb, l.SetPrefetchDepth(prefetch))
	require.NoError(tb, l.Initialize(memoryConfig(samples), decode.Config{NumThreads: threads}, memory.Host, 0, false))
	require.NoError(tb, l.StartLoading())
	tb.Cleanup(l.ShutDown)
	return l
}

// batchBytes copies every sample of the current batch.
func batchBytes(out *tensor.Tensor) [][]byte {
	n := out.Info().BatchSize()
	got := make([][]byte, n)
	for i := range got {
		got[i] = append([]byte(nil), out.Sample(i)...)
	}
	return got
}
