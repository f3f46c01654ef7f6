package main

import (
	"os"

	"github.com/danthegoodman1/sstkit/gologger"
)

var logger = gologger.NewLogger()

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("sstool failed")
		os.Exit(1)
	}
}
