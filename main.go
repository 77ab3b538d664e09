package main

import "adamantium/cmd"

func main() {
	cmd.Execute()
}
