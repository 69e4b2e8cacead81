package main

import "spot2yoto/cmd"

func main() {
	cmd.Execute()
}
