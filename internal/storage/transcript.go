package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"clawd/internal/chat"
)

// transcriptLog 按 session_id 管理追加式 JSONL 转写文件，一行一条消息。
// transcriptLog manages the append-only JSONL transcript files, one per
// session_id, one message per line.
type transcriptLog struct {
	dir string
}

func newTranscriptLog(dir string) (*transcriptLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &transcriptLog{dir: dir}, nil
}

func (t *transcriptLog) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+".jsonl")
}

// append 按产生顺序追加消息；同一会话的写入由调用方按键串行化。
// append writes messages in production order; per-key serialization upstream
// guarantees a single writer per transcript.
func (t *transcriptLog) append(sessionID string, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	f, err := os.OpenFile(t.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", sessionID, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode transcript message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return w.Flush()
}

// load 重放转写；损坏的行跳过而不是报错（会话连续性尽力而为）。
// load replays the transcript; corrupt lines are skipped, never fatal.
func (t *transcriptLog) load(sessionID string) []chat.Message {
	f, err := os.Open(t.path(sessionID))
	if err != nil {
		return nil
	}
	defer f.Close()

	var messages []chat.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (t *transcriptLog) remove(sessionID string) error {
	err := os.Remove(t.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
