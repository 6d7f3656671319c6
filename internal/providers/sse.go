package providers

import (
	"bufio"
	"io"
	"strings"
)

// scanSSE reads an event stream and hands each "data: " payload to onData.
// The loop ends at [DONE], at EOF, or when onData reports the stream is
// finished. Event-name lines and comments are skipped.
func scanSSE(r io.Reader, onData func(payload string) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		done, err := onData(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}
