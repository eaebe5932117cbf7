package main

import "github.com/fdkit/fdkit/pkg/cmd"

func main() {
	cmd.Execute()
}
