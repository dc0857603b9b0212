//go:build linux && cgo

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

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Real NVML-backed implementation.

func initNVML() error {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("initialize NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

func shutdownNVML() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("shutdown NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

func queryNVML() ([]Metrics, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("get device count: %s", nvml.ErrorString(ret))
	}

	devices := make([]Metrics, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			// A single bad handle degrades that device rather than
			// aborting the whole enumeration.
			devices = append(devices, Metrics{ID: i, Healthy: false})
			continue
		}

		m := Metrics{ID: i, Healthy: true}
		if name, ret := dev.GetName(); ret == nvml.SUCCESS {
			m.Name = name
		}
		if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
			m.MemoryTotal = int64(mem.Total)
			m.MemoryUsed = int64(mem.Used)
		} else {
			m.Healthy = false
		}
		if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			t := int(temp)
			m.TemperatureC = &t
		}
		if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
			u := int(util.Gpu)
			m.UtilizationPct = &u
		}

		devices = append(devices, m)
	}
	return devices, nil
}
