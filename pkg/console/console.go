// Package console reads operator commands from the main process's terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/storage"
)

const (
	Prompt     = "Enter a number to change the value of the counter\nor leave a blank line to terminate the process.\n"
	MsgSet     = "Value is set."
	MsgInvalid = "Invalid input."
)

// Listener turns input lines into counter overrides. A blank line or end of
// input is the quit request.
type Listener struct {
	in    io.Reader
	out   io.Writer
	store storage.StateStore
	lock  coordination.Locker
	log   *zap.Logger
}

func NewListener(in io.Reader, out io.Writer, store storage.StateStore, lock coordination.Locker) *Listener {
	return &Listener{
		in:    in,
		out:   out,
		store: store,
		lock:  lock,
		log:   logger.WithFields(zap.String("component", "console")),
	}
}

// Run reads until quit and then calls quit. It returns early, without
// calling quit, if ctx is done between lines; a read already in progress
// is not interrupted.
func (l *Listener) Run(ctx context.Context, quit context.CancelFunc) error {
	fmt.Fprint(l.out, Prompt)

	scanner := bufio.NewScanner(l.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			l.log.Info("Blank line received, quitting")
			quit()
			return nil
		}

		l.handle(line)
	}

	err := scanner.Err()
	if err != nil {
		l.log.Error("Console read failed", zap.Error(err))
	} else {
		l.log.Info("End of input, quitting")
	}
	quit()
	return err
}

func (l *Listener) handle(line string) {
	v, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		fmt.Fprintln(l.out, MsgInvalid)
		return
	}

	err = coordination.WithLock(l.lock, func() error {
		l.store.SetCounter(v)
		return nil
	})
	if err != nil {
		l.log.Error("Failed to set counter", zap.Uint64("value", v), zap.Error(err))
		return
	}
	l.log.Info("Counter set from console", zap.Uint64("counter", v))
	fmt.Fprintln(l.out, MsgSet)
}
