// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accel

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// isCardDevice matches card0, card1, ... but not connectors
// (card0-DP-1) or render nodes (renderD128).
func isCardDevice(name string) bool {
	suffix, found := strings.CutPrefix(name, "card")
	if !found || suffix == "" {
		return false
	}
	for _, character := range suffix {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

// readDriverName returns the basename of the device's driver symlink.
func readDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// parsePCIUevent extracts the vendor name, device ID, and slot from a
// PCI device's uevent file:
//
//	PCI_ID=1002:744A
//	PCI_SLOT_NAME=0000:c3:00.0
func parsePCIUevent(devicePath string) (vendor, deviceID, slot string) {
	data, err := os.ReadFile(filepath.Join(devicePath, "uevent"))
	if err != nil {
		return "", "", ""
	}
	var rawVendor, rawDevice string
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "PCI_ID":
			if vendorPart, devicePart, ok := strings.Cut(value, ":"); ok {
				rawVendor = strings.ToLower(vendorPart)
				rawDevice = strings.ToLower(devicePart)
			}
		case "PCI_SLOT_NAME":
			slot = value
		}
	}
	if rawDevice != "" {
		deviceID = "0x" + rawDevice
	}
	return pciVendorName(rawVendor), deviceID, slot
}

func pciVendorName(vendorID string) string {
	switch vendorID {
	case "1002":
		return "AMD"
	case "10de":
		return "NVIDIA"
	case "8086":
		return "Intel"
	case "":
		return ""
	default:
		return fmt.Sprintf("0x%s", vendorID)
	}
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readSysfsInt64 returns 0 when the file is missing or not a number.
func readSysfsInt64(path string) int64 {
	value, err := strconv.ParseInt(readSysfsString(path), 10, 64)
	if err != nil {
		return 0
	}
	return value
}
