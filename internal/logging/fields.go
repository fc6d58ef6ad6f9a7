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

package logging

// Field keys shared by every log statement so output can be filtered the
// same way across loaders, readers and decoders.
const (
	KeyLoader   = "loader"
	KeyModality = "modality"
	KeyShard    = "shard"
	KeyShards   = "shards"
	KeyState    = "state"
	KeyStatus   = "status"
	KeyCount    = "count"
	KeyBatch    = "batch"
	KeyLevel    = "level"
	KeyPath     = "path"
	KeySample   = "sample"
	KeyStorage  = "storage"
	KeyPadded   = "padded"
	KeyEpoch    = "epoch"
	KeyAddr     = "addr"
)
