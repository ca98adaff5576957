// Command ingest scrapes every library on the roster into the event log and
// reports the state of the work queue.
//
// Usage:
//
//	ingest run [--retry-failed]
//	ingest status [--status failed]
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
