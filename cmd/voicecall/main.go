// Command voicecall is the roleplay voice-call client.
//
// Usage:
//
//	voicecall [flags] <command> [args]
//
// Commands:
//
//	serve - local HTTP/WebSocket bridge for the UI
//	call  - headless voice call on the default audio devices
//	chat  - send one text message and print the streamed reply
//
// Configuration is read from the environment; a .env file in the working
// directory is applied first.
package main

import (
	"fmt"
	"os"

	"github.com/roleplay-ai/voicecall/cmd/voicecall/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
