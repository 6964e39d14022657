// Package output formats command results for the terminal.
package output

import (
	"encoding/json"
	"io"
)

// JSONTo writes data to w as indented JSON.
func JSONTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
