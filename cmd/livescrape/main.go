package main

import (
	"livescrape/cmd/livescrape/commands"
	"livescrape/lib/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	commands.ExecuteContext(ctx)
}
