package main

import (
	"bufio"
	"errors"
	"io"
)

// maxLineBytes bounds one input line; longer lines are dropped whole.
const maxLineBytes = 16 << 10

// readLines sends every line of r to emit and calls tooLong for each line over
// limit bytes, which is skipped. It returns nil at EOF and the read error
// otherwise.
func readLines(r io.Reader, limit int, emit func(string), tooLong func()) error {
	br := bufio.NewReader(r)
	var (
		buf     []byte
		discard bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) > 0 && !discard {
					emit(string(buf))
				}
				return nil
			}
			return err
		}
		if !discard {
			if len(buf)+len(chunk) > limit {
				discard, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if isPrefix {
			continue
		}
		if discard {
			tooLong()
		} else {
			emit(string(buf))
		}
		buf, discard = buf[:0], false
	}
}
