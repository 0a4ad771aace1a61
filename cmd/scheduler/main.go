package main

import "github.com/ramiqadoumi/go-agent-flow/services/scheduler/cli"

func main() {
	cli.Execute()
}
