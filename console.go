package nightlight

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/sim"
)

const consoleHelp = `commands:
  1, 2        tap button 1 (color) or 2 (intensity)
  1+, 2+      hold the button down
  1-, 2-      release the button
  dark, light set the ambient light to 0 or 255
  <0-255>     set the ambient light level
`

// console drives the simulated inputs from text commands, one per line.
type console struct {
	port       *sim.Port
	comparator *sim.Comparator
	pins       events.PinMap
	tap        time.Duration
	out        io.Writer
	logger     *slog.Logger
}

// Run reads commands from r until ctx is canceled or r is exhausted.
func (c *console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("console read failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug("console closed")
				return nil
			}
			if err := c.handle(line); err != nil {
				fmt.Fprintln(c.out, err)
			}
		}
	}
}

func (c *console) handle(line string) error {
	cmd := strings.TrimSpace(line)

	switch cmd {
	case "":
		return nil
	case "help", "?":
		_, err := io.WriteString(c.out, consoleHelp)
		return err
	case "dark":
		c.comparator.SetLevel(0)
		return nil
	case "light":
		c.comparator.SetLevel(0xFF)
		return nil
	}

	var action byte
	if n := len(cmd); n == 2 && (cmd[1] == '+' || cmd[1] == '-') {
		action = cmd[1]
		cmd = cmd[:1]
	}

	var pin uint8
	switch cmd {
	case "1":
		pin = c.pins.Button1
	case "2":
		pin = c.pins.Button2
	default:
		// Any other number is a light level.
		if level, err := strconv.ParseUint(cmd, 10, 8); err == nil && action == 0 {
			c.comparator.SetLevel(uint8(level))
			return nil
		}
		return errors.Errorf("unknown command %q, try help", line)
	}

	switch action {
	case '+':
		c.port.Press(pin)
	case '-':
		c.port.Release(pin)
	default:
		c.port.Press(pin)
		time.Sleep(c.tap)
		c.port.Release(pin)
	}

	c.logger.Debug("console input", "command", line)
	return nil
}
