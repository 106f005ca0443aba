// The main package for the betline-crawler executable.
package main

import "github.com/JakeFAU/betline-crawler/cmd"

func main() {
	cmd.Execute()
}
