package main

import "ongoal/internal/cli"

func main() {
	cli.Execute()
}
