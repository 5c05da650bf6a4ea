package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// metaDB 基于 SQLite (WAL 模式) 的会话元数据表
// metaDB holds the session metadata table in SQLite with WAL mode
type metaDB struct {
	db *sql.DB
}

// metaRecord 元数据表的一行，按规范键字符串索引
// metaRecord is one metadata row, keyed by the canonical key string
type metaRecord struct {
	Key              string
	SessionID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CompactionCount  int
	LastCompactionAt time.Time
	Origin           map[string]any
	State            map[string]any
}

func openMetaDB(dbPath string) (*metaDB, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	m := &metaDB{db: db}
	if err := m.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return m, nil
}

func (m *metaDB) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		key                TEXT PRIMARY KEY,
		session_id         TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		input_tokens       INTEGER NOT NULL DEFAULT 0,
		output_tokens      INTEGER NOT NULL DEFAULT 0,
		total_tokens       INTEGER NOT NULL DEFAULT 0,
		compaction_count   INTEGER NOT NULL DEFAULT 0,
		last_compaction_at TEXT NOT NULL DEFAULT '',
		origin             TEXT NOT NULL DEFAULT '{}',
		state              TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := m.db.Exec(schema)
	return err
}

func (m *metaDB) close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// upsert 整行覆盖写入；单条 INSERT OR REPLACE 对并发读者是原子的。
// upsert overwrites the whole row; a single INSERT OR REPLACE is atomic
// with respect to concurrent readers.
func (m *metaDB) upsert(rec metaRecord) error {
	origin, err := json.Marshal(rec.Origin)
	if err != nil {
		origin = []byte("{}")
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		state = []byte("{}")
	}
	lastCompaction := ""
	if !rec.LastCompactionAt.IsZero() {
		lastCompaction = formatTime(rec.LastCompactionAt)
	}
	_, err = m.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(key, session_id, created_at, updated_at, input_tokens, output_tokens,
			 total_tokens, compaction_count, last_compaction_at, origin, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.SessionID, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.CompactionCount, lastCompaction, string(origin), string(state),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.Key, err)
	}
	return nil
}

func (m *metaDB) get(key string) (metaRecord, bool, error) {
	row := m.db.QueryRow(`
		SELECT key, session_id, created_at, updated_at, input_tokens, output_tokens,
		       total_tokens, compaction_count, last_compaction_at, origin, state
		FROM sessions WHERE key=?`, key)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return metaRecord{}, false, nil
	}
	if err != nil {
		return metaRecord{}, false, err
	}
	return rec, true, nil
}

func (m *metaDB) all() ([]metaRecord, error) {
	rows, err := m.db.Query(`
		SELECT key, session_id, created_at, updated_at, input_tokens, output_tokens,
		       total_tokens, compaction_count, last_compaction_at, origin, state
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var recs []metaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			// 损坏的行按不存在处理 / corrupt rows are skipped, not fatal
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (m *metaDB) delete(key string) (bool, error) {
	res, err := m.db.Exec("DELETE FROM sessions WHERE key=?", key)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (metaRecord, error) {
	var rec metaRecord
	var createdAt, updatedAt, lastCompaction, origin, state string
	err := row.Scan(&rec.Key, &rec.SessionID, &createdAt, &updatedAt,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
		&rec.CompactionCount, &lastCompaction, &origin, &state)
	if err != nil {
		return metaRecord{}, err
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if lastCompaction != "" {
		rec.LastCompactionAt = parseTime(lastCompaction)
	}
	if err := json.Unmarshal([]byte(origin), &rec.Origin); err != nil {
		rec.Origin = map[string]any{}
	}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		rec.State = map[string]any{}
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
