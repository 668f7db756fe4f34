//go:build windows

package cmd

import "os"

// shutdownSignals returns the OS signals that stop a long-running command.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
