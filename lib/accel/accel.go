// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package accel inventories the accelerators an agent can hand to its
// plugins and samples their sensors for operation profiles.
//
// Inventory is static and read from sysfs (/sys/class/drm/card*) with
// NVIDIA enrichment from /proc/driver/nvidia when the proprietary
// driver is loaded. Sampling is dynamic: AMD GPUs are read through DRM
// sensor ioctls on their render nodes (golang.org/x/sys/unix, no cgo).
// NVIDIA sensors need NVML and are not sampled.
//
// Nothing here fails: unreadable files yield zero fields, and a host
// with no GPUs reports an inventory holding only its CPU.
package accel

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Device describes one accelerator.
type Device struct {
	// Card is the DRM card name ("card0").
	Card    string `cbor:"card"`
	Vendor  string `cbor:"vendor"`
	Driver  string `cbor:"driver"`
	Model   string `cbor:"model,omitempty"`
	PCIID   string `cbor:"pci_id,omitempty"`
	PCISlot string `cbor:"pci_slot,omitempty"`

	// UniqueID is the hardware serial (amdgpu unique_id) or NVIDIA GPU
	// UUID, when the driver exposes one.
	UniqueID       string `cbor:"unique_id,omitempty"`
	VRAMTotalBytes int64  `cbor:"vram_total_bytes,omitempty"`
}

// Inventory is the accelerator inventory reported by the devices
// action.
type Inventory struct {
	CPUModel   string   `cbor:"cpu_model"`
	CPUThreads int      `cbor:"cpu_threads"`
	Devices    []Device `cbor:"devices"`
}

// Probe reads the inventory from the live /sys and /proc.
func Probe() Inventory {
	return probeFrom("/sys", "/proc")
}

func probeFrom(sysRoot, procRoot string) Inventory {
	inventory := Inventory{
		CPUModel:   readCPUModel(filepath.Join(procRoot, "cpuinfo")),
		CPUThreads: runtime.NumCPU(),
	}

	drmBase := filepath.Join(sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return inventory
	}
	for _, entry := range entries {
		if !isCardDevice(entry.Name()) {
			continue
		}
		devicePath := filepath.Join(drmBase, entry.Name(), "device")
		driver := readDriverName(devicePath)
		if driver == "" {
			continue
		}
		device := Device{Card: entry.Name(), Driver: driver}
		device.Vendor, device.PCIID, device.PCISlot = parsePCIUevent(devicePath)

		switch driver {
		case "amdgpu":
			device.UniqueID = readSysfsString(filepath.Join(devicePath, "unique_id"))
			device.VRAMTotalBytes = readSysfsInt64(filepath.Join(devicePath, "mem_info_vram_total"))
		case "nvidia":
			enrichNVIDIA(procRoot, &device)
		}
		inventory.Devices = append(inventory.Devices, device)
	}
	return inventory
}

// enrichNVIDIA reads /proc/driver/nvidia/gpus/<slot>/information,
// which holds lines like:
//
//	Model:           NVIDIA GeForce RTX 4090
//	GPU UUID:        GPU-xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func enrichNVIDIA(procRoot string, device *Device) {
	if device.PCISlot == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(procRoot, "driver/nvidia/gpus", device.PCISlot, "information"))
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Model":
			device.Model = strings.TrimSpace(value)
		case "GPU UUID":
			device.UniqueID = strings.TrimSpace(value)
		}
	}
}

// readCPUModel returns the first "model name" in /proc/cpuinfo.
func readCPUModel(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if found && strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
