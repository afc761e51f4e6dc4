package main

import "github.com/chordial-bot/chordial/cmd"

func main() {
	cmd.Execute()
}
