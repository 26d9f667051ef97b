package hidraw

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Short item prefix layout: bits 0-1 size, 2-3 type, 4-7 tag.
const (
	itemTypeMain   = 0
	itemTypeGlobal = 1
	itemTypeLocal  = 2

	tagUsagePage  = 0x0
	tagUsage      = 0x0
	tagCollection = 0xA

	longItemPrefix = 0xFE
)

// PrimaryUsage returns the usage page and usage that precede the first
// collection in a HID report descriptor, which is how the kernel and most
// HID stacks define a device's primary usage.
func PrimaryUsage(desc []byte) (page, usage uint32, ok bool) {
	var havePage, haveUsage bool
	for i := 0; i < len(desc); {
		prefix := desc[i]
		if prefix == longItemPrefix {
			if i+1 >= len(desc) {
				return 0, 0, false
			}
			i += 3 + int(desc[i+1])
			continue
		}
		size := int(prefix & 0x3)
		if size == 3 {
			size = 4
		}
		typ := (prefix >> 2) & 0x3
		tag := (prefix >> 4) & 0xF
		if i+1+size > len(desc) {
			return 0, 0, false
		}
		var val uint32
		for k := 0; k < size; k++ {
			val |= uint32(desc[i+1+k]) << (8 * k)
		}

		switch {
		case typ == itemTypeGlobal && tag == tagUsagePage:
			page = val
			havePage = true
		case typ == itemTypeLocal && tag == tagUsage && !haveUsage:
			if size == 4 {
				// Extended usage carries its own page in the high half.
				page = val >> 16
				usage = val & 0xFFFF
				havePage = true
			} else {
				usage = val
			}
			haveUsage = true
		case typ == itemTypeMain && tag == tagCollection:
			return page, usage, havePage && haveUsage
		}
		i += 1 + size
	}
	return page, usage, havePage && haveUsage
}

// Find scans sysRoot/class/hidraw for the first node whose primary usage
// matches page/usage and returns its /dev path.
func Find(sysRoot string, page, usage uint32) (string, error) {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	matches, err := filepath.Glob(filepath.Join(sysRoot, "class", "hidraw", "hidraw*"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, dir := range matches {
		desc, err := os.ReadFile(filepath.Join(dir, "device", "report_descriptor"))
		if err != nil {
			continue
		}
		p, u, ok := PrimaryUsage(desc)
		if ok && p == page && u == usage {
			return filepath.Join("/dev", filepath.Base(dir)), nil
		}
	}
	return "", fmt.Errorf("hidraw: no device with usage page 0x%04X usage 0x%X under %s", page, usage, sysRoot)
}
