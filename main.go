package main

import "github.com/example/salon-face/cmd"

func main() {
	cmd.Execute()
}
