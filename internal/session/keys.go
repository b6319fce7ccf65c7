package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/containerd/console"
)

// KeySource yields developer commands. Next blocks until a recognised key
// arrives, the input ends (io.EOF), or ctx is done.
type KeySource interface {
	Next(ctx context.Context) (Command, error)
	Close() error
}

type keyRead struct {
	b   byte
	err error
}

// readerKeys turns a byte stream into commands from a single reader
// goroutine, so an abandoned Next never loses a key.
type readerKeys struct {
	once  sync.Once
	src   io.Reader
	reads chan keyRead
}

func newReaderKeys(src io.Reader) *readerKeys {
	return &readerKeys{src: src, reads: make(chan keyRead)}
}

func (k *readerKeys) start() {
	k.once.Do(func() {
		go func() {
			buf := make([]byte, 1)
			for {
				n, err := k.src.Read(buf)
				if n == 1 {
					k.reads <- keyRead{b: buf[0]}
				}
				if err != nil {
					k.reads <- keyRead{err: err}
					return
				}
			}
		}()
	})
}

func (k *readerKeys) next(ctx context.Context) (Command, error) {
	k.start()
	for {
		select {
		case <-ctx.Done():
			return CommandNone, ctx.Err()
		case r := <-k.reads:
			if r.err != nil {
				return CommandNone, r.err
			}
			if cmd := ParseKey(r.b); cmd != CommandNone {
				return cmd, nil
			}
		}
	}
}

// StreamKeys reads commands from a plain stream such as a pipe. Keys only
// arrive once the line is submitted.
type StreamKeys struct {
	*readerKeys
}

// NewStreamKeys reads commands from r.
func NewStreamKeys(r io.Reader) *StreamKeys {
	return &StreamKeys{readerKeys: newReaderKeys(r)}
}

func (k *StreamKeys) Next(ctx context.Context) (Command, error) { return k.next(ctx) }

func (k *StreamKeys) Close() error { return nil }

// TerminalKeys reads single key presses from a terminal. The terminal is put
// in raw mode only while waiting for a key, so progress output keeps its
// normal line discipline.
type TerminalKeys struct {
	*readerKeys
	tty console.Console
}

// NewTerminalKeys wraps f, which must be a terminal.
func NewTerminalKeys(f *os.File) (*TerminalKeys, error) {
	tty, err := console.ConsoleFromFile(f)
	if err != nil {
		return nil, fmt.Errorf("access tty: %w", err)
	}
	return &TerminalKeys{readerKeys: newReaderKeys(tty), tty: tty}, nil
}

func (k *TerminalKeys) Next(ctx context.Context) (Command, error) {
	if err := k.tty.SetRaw(); err != nil {
		return CommandNone, fmt.Errorf("configure tty: %w", err)
	}
	defer func() { _ = k.tty.Reset() }()
	return k.next(ctx)
}

// Close restores the terminal's original mode.
func (k *TerminalKeys) Close() error {
	if err := k.tty.Reset(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("restore tty: %w", err)
	}
	return nil
}

// Keys returns a TerminalKeys when f is a terminal and a StreamKeys otherwise.
func Keys(f *os.File) KeySource {
	if k, err := NewTerminalKeys(f); err == nil {
		return k
	}
	return NewStreamKeys(f)
}
