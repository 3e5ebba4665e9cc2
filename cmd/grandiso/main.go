package main

import "github.com/DrSkyle/grandiso/cmd/grandiso/commands"

func main() {
	commands.Execute()
}
