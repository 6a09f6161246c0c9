// Command zpkg builds and packages C/C++ projects described by zpkg
// descriptors.
package main

import "github.com/zenplay/zpkg/cmd/zpkg/internal"

func main() {
	internal.Execute()
}
