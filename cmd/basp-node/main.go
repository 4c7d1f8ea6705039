// Command basp-node runs a BASP broker with an echo actor published on every
// configured listener.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
