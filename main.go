package main

import "github.com/amiantos/ursceal/cmd"

func main() {
	cmd.Execute()
}
