package main

import "github.com/nfrund/topicspace/cmd/topicspace/cmd"

func main() {
	cmd.Execute()
}
