package main

import "profregr/cmd"

func main() {
	cmd.Execute()
}
