package serialport

import "go.bug.st/serial"

// AvailablePorts enumerates the serial devices currently present on the
// host. It has no side effects on open ports.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}
