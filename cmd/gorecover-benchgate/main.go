// Command gorecover-benchgate compares two `go test -bench` outputs and
// fails when a tracked benchmark's median grows beyond the threshold.
//
//	go test -run '^$' -bench . -count 5 ./... > new.txt
//	gorecover-benchgate --baseline old.txt --candidate new.txt
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
