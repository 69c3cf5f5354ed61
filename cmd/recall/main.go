// Package main is the recall CLI: a daemon that observes an AI coding
// assistant's tool calls, stores them durably, and distills them into
// searchable memories, plus the commands to inspect, back up, and merge
// that data across machines.
package main

func main() {
	Execute()
}
