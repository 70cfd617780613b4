package main

import "github.com/kebairia/pgsafe/cmd"

func main() {
	cmd.Execute()
}
