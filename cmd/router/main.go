package main

import "github.com/ramiqadoumi/go-agent-flow/services/router/cli"

func main() {
	cli.Execute()
}
