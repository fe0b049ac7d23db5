package main

import "github.com/clawdash/clawdash/cmd"

func main() {
	cmd.Execute()
}
