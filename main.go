package main

import "github.com/Susan56789/infinite-cargo-sub003/cmd"

func main() {
	cmd.Execute()
}
