//go:build !darwin && !windows

package ble

// WriteWithResponse is unavailable on BlueZ and embedded stacks; callers fall
// back to Write.
func (c *tinyGoCharacteristic) WriteWithResponse([]byte) error {
	return ErrWriteWithResponseUnsupported
}
