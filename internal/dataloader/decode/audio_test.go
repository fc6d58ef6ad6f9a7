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
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wavOf encodes 16-bit PCM samples as a WAV file and returns its bytes.
func wavOf(t *testing.T, rate, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func floatsAt(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestAudioDecoder_Normalises(t *testing.T) {
	dst := make([]byte, 8*4)
	res, err := AudioDecoder{MaxSamples: 8, MaxChannels: 1}.Decode(wavOf(t, 8000, 1, []int{0, 16384, -16384}), dst)
	require.NoError(t, err)
	assert.Equal(t, AudioResult{Samples: 3, Channels: 1, SampleRate: 8000}, res)
	assert.Equal(t, []float32{0, 0.5, -0.5}, floatsAt(dst, 3))
}

func TestAudioDecoder_TruncatesAndInterleaves(t *testing.T) {
	dst := make([]byte, 2*2*4)
	res, err := AudioDecoder{MaxSamples: 2, MaxChannels: 2}.Decode(wavOf(t, 16000, 2, []int{0, 8192, 16384, -8192, 100, 100}), dst)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Samples)
	assert.Equal(t, 2, res.Channels)
	assert.Equal(t, []float32{0, 0.25, 0.5, -0.25}, floatsAt(dst, 4))
}

func TestAudioDecoder_Rejects(t *testing.T) {
	_, err := AudioDecoder{MaxSamples: 8, MaxChannels: 1}.Decode([]byte("RIFF junk"), make([]byte, 32))
	assert.Error(t, err)
	_, err = AudioDecoder{MaxSamples: 8, MaxChannels: 1}.Decode(wavOf(t, 8000, 2, []int{1, 2}), make([]byte, 32))
	assert.Error(t, err, "too many channels")
}
