package main

import "couple-sync-backend/cmd"

func main() {
	cmd.Run()
}
