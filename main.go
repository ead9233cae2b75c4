package main

import "github.com/agentic-research/corpus/cmd"

func main() {
	cmd.Execute()
}
