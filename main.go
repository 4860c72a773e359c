package main

import "github.com/konceiver/dockv/cmd"

func main() {
	cmd.Execute()
}
