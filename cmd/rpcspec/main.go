// Package main is the entry point for the rpcspec command.
package main

func main() {
	Execute()
}
