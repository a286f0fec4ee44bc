package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const tailChunk = 4096

// TailLog returns the last n lines of the log for a tracked pid.
func (m *Manager) TailLog(pid, n int) ([]string, string, error) {
	rec, ok := m.Get(pid)
	if !ok {
		return nil, "", fmt.Errorf("%w: %d", ErrNotFound, pid)
	}
	lines, err := TailFile(rec.LogFile, n)
	return lines, rec.LogFile, err
}

// TailFile reads the last n lines of path by scanning backwards from the
// end, so large logs are never loaded whole.
func TailFile(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf []byte
	offset := info.Size()
	for offset > 0 && bytes.Count(bytes.TrimRight(buf, "\n"), []byte{'\n'}) < n {
		size := int64(tailChunk)
		if offset < size {
			size = offset
		}
		offset -= size
		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	text := string(bytes.TrimRight(buf, "\n"))
	if text == "" {
		return []string{}, nil
	}
	all := bytes.Split([]byte(text), []byte{'\n'})
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]string, len(all))
	for i, l := range all {
		out[i] = string(l)
	}
	return out, nil
}
