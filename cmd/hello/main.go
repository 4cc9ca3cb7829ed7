package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wesleyorama2/loadtest/internal/server"
)

// Main runs the hello service and returns the process exit code.
// It's exported to make it testable
func Main() int {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	srv := server.New(server.DefaultAddr, log)
	if err := srv.Run(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func main() {
	os.Exit(Main())
}
