// Command cashctl connects to cash peripherals, monitors their events and
// replays the event journal.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
