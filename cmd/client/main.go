package main

import (
	"wsotp/internal/client/cli"
	"wsotp/internal/client/tui"
)

// ServerAddr is set via ldflags during build. e.g. -X main.ServerAddr=bot.example.com:4443
var ServerAddr = "localhost:4443"

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	tui.Version = Version
	cli.Init(ServerAddr)
	cli.Execute()
}
