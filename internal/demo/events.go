package demo

import (
	"fmt"

	"longagent/internal/contracts"
)

// ConsolePrinter is a contracts.EventSink that writes one line per event to
// an injected writer (os.Stdout in cmd/longagent), matching the teacher's
// preference for direct fmt.Fprintf CLI output over a logging framework for
// user-facing progress.
type ConsolePrinter struct {
	Write func(line string)
}

func (c ConsolePrinter) Emit(event contracts.Event) {
	if c.Write == nil {
		return
	}
	c.Write(fmt.Sprintf("[%s] %s %v", event.SessionID, event.Type, event.Payload))
}
