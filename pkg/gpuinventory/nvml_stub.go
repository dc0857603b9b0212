//go:build !linux || !cgo

// Copyright 2025 Flant JSC
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

package gpuinventory

import "errors"

// No native NVML binding on this platform: Client always falls back
// to the synthetic device reported by ListGPUs.

func initNVML() error {
	return errors.New("nvml: unsupported platform")
}

func shutdownNVML() error {
	return nil
}

func queryNVML() ([]Metrics, error) {
	return nil, errors.New("nvml: unsupported platform")
}
