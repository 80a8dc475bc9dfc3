package main

import "github.com/RyanBlaney/harvest-datapost/cmd"

func main() {
	cmd.Execute()
}
