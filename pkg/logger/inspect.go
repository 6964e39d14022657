// pkg/logger/inspect.go

package logger

import (
	"bufio"
	"io"
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/valyala/fastjson"
)

// TailLines returns the last n non-empty lines of path.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tail(f, n)
}

func tail(r io.Reader, n int) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	ring := make([]string, 0, n)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	return ring, sc.Err()
}

// ColorizeLogLine colours a JSON record by its level. Lines that are not
// records come back unchanged.
func ColorizeLogLine(line string, enabled bool) string {
	v, err := fastjson.Parse(line)
	if err != nil || !v.Exists(record.KeyLevel) {
		return line
	}
	level, err := record.ParseLevel(string(v.GetStringBytes(record.KeyLevel)))
	if err != nil {
		return line
	}
	c, ok := levelColours[level]
	if !enabled || !ok {
		return line
	}
	return c.Sprint(line)
}
