package main

import "github.com/theirongolddev/chatmeter/cmd"

func main() {
	cmd.Execute()
}
