package memindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds one JSON-lines record.
const maxLineBytes = 4 << 20

// Load reads one JSON object per line into the index. Blank lines are skipped.
func (ix *Index) Load(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n, line := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(text), &fields); err != nil {
			return n, fmt.Errorf("line %d: decode: %w", line, err)
		}
		if err := ix.Add(fields); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read documents: %w", err)
	}
	return n, nil
}

// LoadFile builds an index from a JSON-lines file.
func LoadFile(path, uniqueKey string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ix := New(uniqueKey)
	if _, err := ix.Load(f); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return ix, nil
}
