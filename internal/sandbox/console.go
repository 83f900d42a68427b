package sandbox

import (
	"github.com/triggerkit/triggerkit/internal/logger"
)

// Console is the sandbox's console sink. While a capture window is open,
// output accumulates into the capture buffer; outside a window it goes to the
// structured logger, so bootstrap and evaluation chatter is never attributed
// to a handler.
type Console struct {
	log       *logger.Logger
	capturing bool
	captured  []string
}

func newConsole(log *logger.Logger) *Console {
	return &Console{log: log}
}

// StartCapture opens a capture window. Capture windows bracket exactly one
// handler call.
func (c *Console) StartCapture() {
	c.capturing = true
	c.captured = nil
}

// StopCapture closes the window and returns the lines written inside it.
func (c *Console) StopCapture() []string {
	c.capturing = false
	lines := c.captured
	c.captured = nil
	return lines
}

func (c *Console) write(level, line string) {
	if c.capturing {
		c.captured = append(c.captured, line)
		return
	}
	c.log.Debug("sandbox console", map[string]any{"level": level, "line": line})
}

// Log implements the goja_nodejs console.Printer interface.
func (c *Console) Log(line string) {
	c.write("log", line)
}

// Warn implements the goja_nodejs console.Printer interface.
func (c *Console) Warn(line string) {
	c.write("warn", line)
}

// Error implements the goja_nodejs console.Printer interface.
func (c *Console) Error(line string) {
	c.write("error", line)
}
