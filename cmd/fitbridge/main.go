package main

import "github.com/fitbridge/fitbridge/cmd/fitbridge/cmd"

func main() {
	cmd.Execute()
}
