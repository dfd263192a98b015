package main

import "github.com/javi11/streamfile/cmd/streamfile/cmd"

func main() {
	cmd.Execute()
}
