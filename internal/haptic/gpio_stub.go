//go:build !linux

package haptic

func openGPIO(GPIOConfig) (driver, error) {
	return nil, errGPIOUnsupported
}

var openGPIOFn = openGPIO
