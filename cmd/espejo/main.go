// Command espejo keeps a local store mirror in sync with the hosted
// document store backend.
package main

func main() {
	Execute()
}
