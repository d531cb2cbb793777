package main

import "github.com/shono-io/shipwright/cmd"

func main() {
	cmd.Execute()
}
