package main

import "github.com/tubeq/tubeq/cmd"

func main() {
	cmd.Execute()
}
