package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clawd/internal/chat"
	"clawd/internal/session"

	"github.com/google/uuid"
)

// Store 会话生命周期与持久化的权威：get-or-create-or-expire、追加转写、
// 元数据快照、删除与列表。进程内缓存由 Store 自有，仅通过 Get/Save 修改。
// Store is the session lifecycle and persistence authority. The in-memory
// cache is owned by the store and mutated only through its entry points.
type Store struct {
	meta        *metaDB
	transcripts *transcriptLog
	policy      session.ResetPolicy

	mu    sync.Mutex
	cache map[string]*session.Session
	locks map[string]*sync.Mutex
}

// Info 列表视图的轻量元数据 / lightweight metadata for listings
type Info struct {
	Key         string    `json:"key"`
	SessionID   string    `json:"session_id"`
	UpdatedAt   time.Time `json:"updated_at"`
	TotalTokens int       `json:"total_tokens"`
}

// Open 打开存储根目录：sessions.db 元数据表 + transcripts/ 转写目录。
// Open initializes the storage root: sessions.db plus transcripts/.
func Open(baseDir string, policy session.ResetPolicy) (*Store, error) {
	meta, err := openMetaDB(filepath.Join(baseDir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session metadata: %w", err)
	}
	transcripts, err := newTranscriptLog(filepath.Join(baseDir, "transcripts"))
	if err != nil {
		_ = meta.close()
		return nil, err
	}
	return &Store{
		meta:        meta,
		transcripts: transcripts,
		policy:      policy,
		cache:       make(map[string]*session.Session),
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// Close 关闭元数据库 / Close releases the metadata database
func (s *Store) Close() error {
	return s.meta.close()
}

// LockKey 获取指定键的互斥锁，返回解锁函数。同一键的回合串行执行，
// 不同键完全独立并发。
// LockKey serializes work per session key. Distinct keys run concurrently;
// the same key never does.
func (s *Store) LockKey(key session.Key) func() {
	s.mu.Lock()
	lock, ok := s.locks[key.String()]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key.String()] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Get 获取或创建会话。已有记录先经过期判定：过期则在同一键下换新会话
// （旧转写留在磁盘上但不再可达）；未过期则懒加载转写进缓存。损坏的记录
// 按不存在处理，永不阻塞消息处理。
// Get returns the session for a key, creating a fresh one when none exists
// or the reset policy judges the prior one expired. Corrupt records fail
// open to an empty session.
func (s *Store) Get(key session.Key) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	if cached, ok := s.cache[keyStr]; ok {
		if !s.policy.IsExpired(cached.UpdatedAt, time.Now()) {
			return cached, nil
		}
		return s.createLocked(key)
	}

	rec, found, err := s.meta.get(keyStr)
	if err != nil || !found {
		// 读取失败视为无历史状态 / unreadable metadata means no prior state
		return s.createLocked(key)
	}
	if s.policy.IsExpired(rec.UpdatedAt, time.Now()) {
		return s.createLocked(key)
	}

	sess := sessionFromRecord(key, rec)
	sess.Messages = s.transcripts.load(rec.SessionID)
	s.cache[keyStr] = sess
	return sess, nil
}

// Save 先把未落盘消息按顺序追加到转写，再整行覆盖元数据。追加失败时批次
// 放回队列，重试保存仍能落盘。
// Save appends unflushed messages to the transcript in order, then
// atomically overwrites the metadata row. On append failure the batch is
// requeued so a retried save still persists it.
func (s *Store) Save(sess *session.Session) error {
	pending := sess.DrainPending()
	if err := s.transcripts.append(sess.ID, pending); err != nil {
		sess.RequeuePending(pending)
		return fmt.Errorf("append transcript: %w", err)
	}
	if err := s.meta.upsert(recordFromSession(sess)); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[sess.Key.String()] = sess
	s.mu.Unlock()
	return nil
}

// Append 追加单条消息并持久化元数据，等价于 AddMessage + Save。
// Append adds one message and persists, the save(session, message) form.
func (s *Store) Append(sess *session.Session, msg chat.Message) error {
	sess.AddMessage(msg)
	return s.Save(sess)
}

// Reset 无条件在同一键下分配新 session_id，放弃逻辑连续性。
// Reset unconditionally allocates a new session_id under the key.
func (s *Store) Reset(key session.Key) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(key)
}

// List 返回全部已知会话的快照，可按最近活跃时长过滤，最近更新在前。
// List snapshots all known sessions, optionally filtered by recency,
// most recently updated first.
func (s *Store) List(activeWithin time.Duration) ([]Info, error) {
	recs, err := s.meta.all()
	if err != nil {
		return nil, err
	}
	cutoff := time.Time{}
	if activeWithin > 0 {
		cutoff = time.Now().Add(-activeWithin)
	}
	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		if !cutoff.IsZero() && rec.UpdatedAt.Before(cutoff) {
			continue
		}
		infos = append(infos, Info{
			Key:         rec.Key,
			SessionID:   rec.SessionID,
			UpdatedAt:   rec.UpdatedAt,
			TotalTokens: rec.TotalTokens,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Delete 删除元数据与物理转写，返回是否确有删除。
// Delete removes metadata and the transcript, reporting whether anything
// was removed.
func (s *Store) Delete(key session.Key) (bool, error) {
	keyStr := key.String()
	rec, found, err := s.meta.get(keyStr)
	if err != nil {
		return false, err
	}
	if found {
		if err := s.transcripts.remove(rec.SessionID); err != nil {
			return false, fmt.Errorf("remove transcript: %w", err)
		}
	}
	deleted, err := s.meta.delete(keyStr)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	delete(s.cache, keyStr)
	s.mu.Unlock()
	return deleted, nil
}

// createLocked 在持有 s.mu 的前提下创建并登记新会话。
func (s *Store) createLocked(key session.Key) (*session.Session, error) {
	sess := session.New(key, uuid.NewString())
	if err := s.meta.upsert(recordFromSession(sess)); err != nil {
		return nil, err
	}
	s.cache[key.String()] = sess
	return sess, nil
}

func recordFromSession(sess *session.Session) metaRecord {
	return metaRecord{
		Key:              sess.Key.String(),
		SessionID:        sess.ID,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
		InputTokens:      sess.InputTokens,
		OutputTokens:     sess.OutputTokens,
		TotalTokens:      sess.TotalTokens,
		CompactionCount:  sess.CompactionCount,
		LastCompactionAt: sess.LastCompactionAt,
		Origin:           sess.Origin,
		State:            sess.State,
	}
}

func sessionFromRecord(key session.Key, rec metaRecord) *session.Session {
	sess := session.New(key, rec.SessionID)
	sess.CreatedAt = rec.CreatedAt
	sess.UpdatedAt = rec.UpdatedAt
	sess.InputTokens = rec.InputTokens
	sess.OutputTokens = rec.OutputTokens
	sess.TotalTokens = rec.TotalTokens
	sess.CompactionCount = rec.CompactionCount
	sess.LastCompactionAt = rec.LastCompactionAt
	if rec.Origin != nil {
		sess.Origin = rec.Origin
	}
	if rec.State != nil {
		sess.State = rec.State
	}
	return sess
}
