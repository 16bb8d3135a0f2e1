package driver

import (
	"runtime"
	"strings"

	"go.bug.st/serial"
	"proplink/logger"
)

// Scanner handles discovery of candidate device ports
type Scanner struct {
	// List returns raw port names; defaults to serial.GetPortsList.
	List func() ([]string, error)
	// Extra endpoints (e.g. tcp://localhost:9999) always offered.
	Extra []string
	// GOOS selects the naming convention; defaults to runtime.GOOS.
	GOOS string
}

func NewScanner(extra ...string) *Scanner {
	return &Scanner{
		List:  serial.GetPortsList,
		Extra: extra,
		GOOS:  runtime.GOOS,
	}
}

// Discover finds all candidate ports (serial + extra endpoints)
func (s *Scanner) Discover() []string {
	var ports []string

	// 1. Hardware serial ports
	list := s.List
	if list == nil {
		list = serial.GetPortsList
	}
	hwPorts, err := list()
	if err != nil {
		logger.Error("Failed to list serial ports: %v", err)
	} else {
		ports = append(ports, hwPorts...)
	}

	// 2. Development endpoints
	ports = append(ports, s.Extra...)

	// 3. Filter and deduplicate
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	filtered := filterPorts(ports, goos)
	logger.Debug("Found %d candidate ports: %v", len(filtered), filtered)
	return filtered
}

// filterPorts filters ports based on OS conventions
func filterPorts(ports []string, goos string) []string {
	var filtered []string
	seen := make(map[string]bool)

	for _, port := range ports {
		if seen[port] {
			continue
		}
		seen[port] = true

		// Always include non-device endpoints
		if strings.HasPrefix(port, tcpScheme) || strings.HasPrefix(port, loopbackScheme) {
			filtered = append(filtered, port)
			continue
		}

		// Windows: COM ports
		if goos == "windows" {
			if strings.HasPrefix(strings.ToUpper(port), "COM") {
				filtered = append(filtered, port)
			}
			continue
		}

		// macOS/Linux: filter by name
		lower := strings.ToLower(port)
		if strings.Contains(lower, "bluetooth") {
			continue
		}

		if strings.Contains(lower, "ttyusb") ||
			strings.Contains(lower, "ttyacm") ||
			strings.Contains(lower, "ttyama") ||
			strings.Contains(lower, "usbserial") ||
			strings.Contains(lower, "cu.") ||
			strings.Contains(lower, "ttys") {
			filtered = append(filtered, port)
		}
	}

	return filtered
}
