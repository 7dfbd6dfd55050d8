package main

import "github.com/mabhi256/nbtspec/cmd"

func main() {
	cmd.Execute()
}
