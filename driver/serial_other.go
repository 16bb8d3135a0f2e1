//go:build !linux

package driver

// Without a termios backend every physical port goes through go.bug.st/serial.
func openNativePort(portName string, baudRate int) (Port, error) {
	return openSerialPort(portName, baudRate)
}
