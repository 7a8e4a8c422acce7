package main

import "github.com/tradelens/ms-go-billing/cmd"

func main() {
	cmd.Execute()
}
