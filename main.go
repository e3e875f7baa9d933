package main

import "github.com/mreyes/tradereflect/cmd"

func main() {
	cmd.Execute()
}
