package main

import (
	"context"
	"errors"
	"time"

	"proplink/console"
	"proplink/logger"
	"proplink/transport"
)

// exitKey (Ctrl-]) leaves terminal mode.
const exitKey = 0x1d

const termPoll = 10 * time.Millisecond

type keyboard interface {
	KeyPressed() (bool, error)
	ReadKey() (int, error)
	WriteChar(b byte) error
}

type device interface {
	Write(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (transport.ReadResult, error)
}

// runTerminal echoes device output to the screen and sends keystrokes to
// the device until the exit key, ctx cancellation or a device failure.
func runTerminal(ctx context.Context, dev device, kb keyboard) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		res, err := dev.ReadWithTimeout(buf, termPoll)
		if err != nil {
			return err
		}
		for _, b := range buf[:res.N] {
			if err := kb.WriteChar(b); err != nil {
				return err
			}
		}

		for {
			pressed, err := kb.KeyPressed()
			if err != nil {
				if errors.Is(err, console.ErrUnsupported) {
					break
				}
				return err
			}
			if !pressed {
				break
			}
			key, err := kb.ReadKey()
			if err != nil {
				return err
			}
			if key == console.EOF {
				break
			}
			if key == exitKey {
				logger.Debug("Terminal exit key pressed")
				return nil
			}
			if _, err := dev.Write([]byte{byte(key)}); err != nil {
				return err
			}
		}
	}
}
