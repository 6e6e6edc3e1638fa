// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accel

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM_IOCTL_AMDGPU_INFO: _IOW('d', 0x45, sizeof(struct drm_amdgpu_info)).
const ioctlAMDGPUInfo = 0x40406445

// AMDGPU_INFO_SENSOR and its sub-queries, from amdgpu_drm.h.
const (
	amdgpuInfoSensor = 0x1D

	sensorGFXSCLK     = 0x1
	sensorGFXMCLK     = 0x2
	sensorGPUTemp     = 0x3
	sensorGPULoad     = 0x4
	sensorGPUAvgPower = 0x5
)

// amdgpuInfoRequest mirrors struct drm_amdgpu_info (64 bytes). Sensor
// queries use the first 4 bytes of the union for the sensor type.
type amdgpuInfoRequest struct {
	returnPointer uint64
	returnSize    uint32
	query         uint32
	union         [48]byte
}

func querySensor(fd uintptr, sensor uint32) (uint32, error) {
	var result uint32
	var request amdgpuInfoRequest
	request.returnPointer = uint64(uintptr(unsafe.Pointer(&result)))
	request.returnSize = 4
	request.query = amdgpuInfoSensor
	binary.LittleEndian.PutUint32(request.union[:4], sensor)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(ioctlAMDGPUInfo), uintptr(unsafe.Pointer(&request)))
	if errno != 0 {
		return 0, fmt.Errorf("amdgpu sensor query 0x%x: %w", sensor, errno)
	}
	return result, nil
}

// sensors maps counter suffixes to sensor queries.
var sensors = []struct {
	name   string
	sensor uint32
	scale  float64
}{
	{"load_percent", sensorGPULoad, 1},
	{"temperature_celsius", sensorGPUTemp, 0.001},
	{"power_watts", sensorGPUAvgPower, 1},
	{"graphics_clock_mhz", sensorGFXSCLK, 1},
	{"memory_clock_mhz", sensorGFXMCLK, 1},
}

type amdDevice struct {
	card       string
	devicePath string
	render     *os.File
}

// Sampler reads AMD GPU sensors. It implements profile.Sampler; keys
// are "<card>.<sensor>", e.g. "card0.load_percent".
type Sampler struct {
	devices []amdDevice
	logger  *slog.Logger
}

// NewSampler opens the render node of every amdgpu card. Cards whose
// render node cannot be opened (the agent is not in the render group)
// still report VRAM usage from sysfs.
func NewSampler(logger *slog.Logger) *Sampler {
	return newSamplerFrom("/sys", "/dev/dri", logger)
}

func newSamplerFrom(sysRoot, devRoot string, logger *slog.Logger) *Sampler {
	sampler := &Sampler{logger: logger}
	drmBase := filepath.Join(sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return sampler
	}
	for _, entry := range entries {
		if !isCardDevice(entry.Name()) {
			continue
		}
		devicePath := filepath.Join(drmBase, entry.Name(), "device")
		if readDriverName(devicePath) != "amdgpu" {
			continue
		}
		device := amdDevice{card: entry.Name(), devicePath: devicePath}
		if node := renderNode(drmBase, devicePath); node != "" {
			file, err := os.OpenFile(filepath.Join(devRoot, node), os.O_RDWR, 0)
			if err != nil {
				logger.Warn("cannot open amdgpu render node, sensors unavailable",
					"card", entry.Name(),
					"render_node", node,
					"error", err)
			} else {
				device.render = file
			}
		}
		sampler.devices = append(sampler.devices, device)
	}
	if len(sampler.devices) > 0 {
		logger.Info("amdgpu sampler initialized", "gpu_count", len(sampler.devices))
	}
	return sampler
}

// renderNode returns the renderD* name backed by the same PCI device
// as a card. Card and render indexes need not match.
func renderNode(drmBase, devicePath string) string {
	cardPCI, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return ""
	}
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "renderD") {
			continue
		}
		renderPCI, err := filepath.EvalSymlinks(filepath.Join(drmBase, entry.Name(), "device"))
		if err == nil && renderPCI == cardPCI {
			return entry.Name()
		}
	}
	return ""
}

// Sample returns the current sensor readings. Failed queries are
// omitted.
func (s *Sampler) Sample() map[string]float64 {
	if len(s.devices) == 0 {
		return nil
	}
	readings := make(map[string]float64)
	for _, device := range s.devices {
		if used := readSysfsInt64(filepath.Join(device.devicePath, "mem_info_vram_used")); used > 0 {
			readings[device.card+".vram_used_bytes"] = float64(used)
		}
		if device.render == nil {
			continue
		}
		for _, sensor := range sensors {
			value, err := querySensor(device.render.Fd(), sensor.sensor)
			if err != nil {
				s.logger.Debug("amdgpu sensor query failed", "card", device.card, "sensor", sensor.name, "error", err)
				continue
			}
			readings[device.card+"."+sensor.name] = float64(value) * sensor.scale
		}
	}
	return readings
}

// Devices returns the number of sampled cards.
func (s *Sampler) Devices() int {
	return len(s.devices)
}

// Close releases the render nodes.
func (s *Sampler) Close() {
	for _, device := range s.devices {
		if device.render != nil {
			device.render.Close()
		}
	}
	s.devices = nil
}
