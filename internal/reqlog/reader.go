package reqlog

import (
	"bufio"
	"encoding/json"
	"os"
)

// maxLineSize bounds a single JSONL line when reading logs back.
const maxLineSize = 1 << 20

// ReadRequestLogs returns finished-request entries from the live log
// file, newest first. Only request_end lines are returned; model filters
// when non-empty. Reads stop once limit+offset matches are collected.
func (s *Service) ReadRequestLogs(limit, offset int, model string) ([]map[string]any, error) {
	lines, err := readLines(s.requests.Filename)
	if err != nil {
		return nil, err
	}

	logs := make([]map[string]any, 0, limit)
	for i := len(lines) - 1; i >= 0; i-- {
		var entry map[string]any
		if err := json.Unmarshal(lines[i], &entry); err != nil {
			continue
		}
		if entry["type"] != EntryRequestEnd {
			continue
		}
		if model != "" && entry["model"] != model {
			continue
		}
		logs = append(logs, entry)
		if len(logs) >= limit+offset {
			break
		}
	}

	if offset >= len(logs) {
		return []map[string]any{}, nil
	}
	end := offset + limit
	if end > len(logs) {
		end = len(logs)
	}
	return logs[offset:end], nil
}

// ReadErrorLogs returns up to limit error entries, newest first.
func (s *Service) ReadErrorLogs(limit int) ([]map[string]any, error) {
	lines, err := readLines(s.errors.Filename)
	if err != nil {
		return nil, err
	}

	logs := make([]map[string]any, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(logs) < limit; i-- {
		var entry map[string]any
		if err := json.Unmarshal(lines[i], &entry); err != nil {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
