package main

import "conversation-service/cmd"

func main() {
	cmd.Execute()
}
