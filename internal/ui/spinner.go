// spinner.go implements the spinner shown while a stack is torn down.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// StartSpinner animates message on w until the returned stop function is
// called. Stop prints a coloured ok or fail marker and is safe to call more
// than once; only the first call prints.
func StartSpinner(w io.Writer, message string) func(success bool) {
	frames := []rune{'|', '/', '-', '\\'}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %c", message, frames[idx])
				idx = (idx + 1) % len(frames)
			}
		}
	}()
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			close(done)
			<-finished
			status := color.New(color.FgGreen).Sprint("ok")
			if !success {
				status = color.New(color.FgRed).Sprint("fail")
			}
			fmt.Fprintf(w, "\r%s %s\x1b[K\n", message, status)
		})
	}
}
