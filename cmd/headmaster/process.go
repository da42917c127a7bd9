package main

import (
	"os"
	"runtime"
)

// getProcessInfo returns process information for the startup log
func getProcessInfo() map[string]interface{} {
	return map[string]interface{}{
		"pid":        os.Getpid(),
		"hostname":   getHostname(),
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}
}

// getHostname safely gets hostname
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
