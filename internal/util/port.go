package util

import "fmt"

const (
	MinPort = 1
	MaxPort = 65535
	// MaxStartPort is the highest usable scan start. The allocator scans
	// [start, MaxPort), so MaxPort itself is never handed out.
	MaxStartPort = MaxPort - 1
)

// ValidatePort checks that a local SOCKS port is in 1-65535.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (must be %d-%d)", port, MinPort, MaxPort)
	}
	return nil
}

// ValidateStartPort checks connection.start_port, which must leave the
// allocator at least one port to try (1-65534).
func ValidateStartPort(port int) error {
	if port < MinPort || port > MaxStartPort {
		return fmt.Errorf("start port %d out of range (must be %d-%d)", port, MinPort, MaxStartPort)
	}
	return nil
}
