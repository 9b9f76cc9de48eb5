package main

import "github.com/helixbridge/helixbridge/cmd"

func main() {
	cmd.Execute()
}
