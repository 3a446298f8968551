package main

import "github.com/geosparse/gopgi/cmd"

func main() {
	cmd.Execute()
}
