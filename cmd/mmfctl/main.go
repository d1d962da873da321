// mmfctl inspects and drives named shared memory regions from the command
// line: create and hold a region, write and read payloads, dump header
// state and watch for changes.
package main

func main() {
	Execute()
}
