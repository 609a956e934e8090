// auraclient is a terminal stand-in for the perception front-end: it replays
// a canned landmark capture against a running gateway and renders whatever
// comes back, which makes it handy for exercising the pipeline end to end
// without a camera.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	gatewayURL := flag.String("gateway", "ws://localhost:8080/ws", "gateway websocket URL")
	flag.Parse()

	program := tea.NewProgram(newModel(*gatewayURL), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "auraclient: %v\n", err)
		os.Exit(1)
	}
}
