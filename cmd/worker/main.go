package main

import "github.com/ramiqadoumi/go-agent-flow/services/worker/cli"

func main() {
	cli.Execute()
}
