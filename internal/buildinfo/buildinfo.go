// Package buildinfo carries version data stamped in at link time:
//
//	go build -ldflags "-X github.com/dmitrijs2005/wardsync/internal/buildinfo.Version=v1.2.0"
package buildinfo

import (
	"fmt"
	"io"
)

var (
	Version = "N/A"
	Commit  = "N/A"
	Date    = "N/A"
)

// Print writes the build banner to w.
func Print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s version: %s\n", name, Version)
	fmt.Fprintf(w, "%s build date: %s\n", name, Date)
	fmt.Fprintf(w, "%s build commit: %s\n", name, Commit)
}
