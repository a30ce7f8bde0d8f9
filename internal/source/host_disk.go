package source

import "strings"

var letterDiskFamilies = []string{"xvd", "sd", "vd", "hd"}

// isBaseDiskDevice reports whether a device is a whole disk rather than a partition.
// Params: device name from gopsutil, with or without `/dev/` prefix.
// Returns: true when the device is reported as a Disk object.
func isBaseDiskDevice(name string) bool {
	device := normalizeDeviceName(name)
	if device == "" {
		return false
	}

	for _, family := range letterDiskFamilies {
		if rest, ok := strings.CutPrefix(device, family); ok {
			if matched, base := letterDiskSuffix(rest); matched {
				return base
			}
		}
	}
	if rest, ok := strings.CutPrefix(device, "nvme"); ok {
		if matched, base := numberedDiskSuffix(rest, true); matched {
			return base
		}
	}
	if rest, ok := strings.CutPrefix(device, "mmcblk"); ok {
		if matched, base := numberedDiskSuffix(rest, false); matched {
			return base
		}
	}

	for _, virtual := range []string{"loop", "ram"} {
		if rest, ok := strings.CutPrefix(device, virtual); ok && isDigits(rest) {
			return false
		}
	}

	// dm-N, mdN, zdN and unknown names are kept.
	return true
}

// normalizeDeviceName trims spaces and optional /dev/ prefix.
// Params: raw device name.
// Returns: short device name.
func normalizeDeviceName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "/dev/")
}

// letterDiskSuffix classifies the part after sd/vd/xvd/hd: letters, then optional partition digits.
// Params: rest device name without family prefix.
// Returns: matched family flag and base-disk decision.
func letterDiskSuffix(rest string) (bool, bool) {
	letters := 0
	for letters < len(rest) && rest[letters] >= 'a' && rest[letters] <= 'z' {
		letters++
	}
	if letters == 0 {
		return false, false
	}
	return true, !isDigits(rest[letters:])
}

// numberedDiskSuffix classifies nvmeXnY[pZ] and mmcblkX[pZ] suffixes.
// Params: rest device name without family prefix; namespace requires the nvme "nY" part.
// Returns: matched family flag and base-disk decision.
func numberedDiskSuffix(rest string, namespace bool) (bool, bool) {
	n := consumeDigits(rest)
	if n == 0 {
		return false, false
	}
	rest = rest[n:]

	if namespace {
		after, ok := strings.CutPrefix(rest, "n")
		if !ok {
			return false, false
		}
		n = consumeDigits(after)
		if n == 0 {
			return false, false
		}
		rest = after[n:]
	}

	if partition, ok := strings.CutPrefix(rest, "p"); ok && isDigits(partition) {
		return true, false
	}
	return true, true
}

// consumeDigits returns the leading decimal digit run length.
func consumeDigits(value string) int {
	index := 0
	for index < len(value) && value[index] >= '0' && value[index] <= '9' {
		index++
	}
	return index
}

// isDigits checks that value is a non-empty decimal number.
func isDigits(value string) bool {
	return value != "" && consumeDigits(value) == len(value)
}
