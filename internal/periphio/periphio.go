// Package periphio runs the night light on a Linux board through periph: the
// chain is driven from a spidev port and the buttons and ambient comparator
// are read from GPIO pins.
package periphio

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/host/v3"
)

var (
	initOnce sync.Once
	initErr  error
)

// Open initializes the host drivers. It may be called more than once.
func Open() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = errors.Wrap(err, "failed to initialize periph host")
		}
	})
	return initErr
}
