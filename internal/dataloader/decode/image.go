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
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mediaload/pkg/tensor"
)

// ImageDecoder decodes any registered image format into packed, row-major
// pixels of the requested color format. Images larger than the maximum
// shape are downscaled (nearest neighbour) to fit unless KeepOriginal is
// set, in which case they are rejected.
type ImageDecoder struct {
	MaxWidth     int
	MaxHeight    int
	Color        tensor.ColorFormat
	KeepOriginal bool
}

// ImageResult is the shape written by Decode and the shape of the source.
type ImageResult struct {
	Width, Height         int
	OrigWidth, OrigHeight int
}

// Decode writes width*height*channels bytes at the start of dst.
func (d ImageDecoder) Decode(data []byte, dst []byte) (ImageResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageResult{}, errors.Wrap(err, "decode image")
	}
	bounds := img.Bounds()
	res := ImageResult{OrigWidth: bounds.Dx(), OrigHeight: bounds.Dy()}
	res.Width, res.Height = res.OrigWidth, res.OrigHeight
	if res.Width > d.MaxWidth || res.Height > d.MaxHeight {
		if d.KeepOriginal {
			return ImageResult{}, errors.Errorf("image %dx%d exceeds %dx%d",
				res.Width, res.Height, d.MaxWidth, d.MaxHeight)
		}
		res.Width, res.Height = fitWithin(res.Width, res.Height, d.MaxWidth, d.MaxHeight)
	}

	ch := d.Color.Channels()
	if need := res.Width * res.Height * ch; len(dst) < need {
		return ImageResult{}, errors.Errorf("sample area of %d bytes, image needs %d", len(dst), need)
	}
	i := 0
	for y := 0; y < res.Height; y++ {
		sy := bounds.Min.Y + y*res.OrigHeight/res.Height
		for x := 0; x < res.Width; x++ {
			sx := bounds.Min.X + x*res.OrigWidth/res.Width
			c := img.At(sx, sy)
			switch d.Color {
			case tensor.U8:
				dst[i] = color.GrayModel.Convert(c).(color.Gray).Y
			case tensor.BGR24:
				r, g, b, _ := c.RGBA()
				dst[i], dst[i+1], dst[i+2] = uint8(b>>8), uint8(g>>8), uint8(r>>8)
			default:
				r, g, b, _ := c.RGBA()
				dst[i], dst[i+1], dst[i+2] = uint8(r>>8), uint8(g>>8), uint8(b>>8)
			}
			i += ch
		}
	}
	return res, nil
}

// fitWithin scales w x h down, keeping the aspect ratio, until it fits in
// maxW x maxH.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}
