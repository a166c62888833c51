// Package logging configures the process-wide logrus logger.
package logging

import (
	log "github.com/sirupsen/logrus"
)

// Configure sets the log level, matching cmd/k8router/cmd's
// verbose-flag branch: Debug under verbose, Info otherwise.
func Configure(verbose bool) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
