package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sandergv/tchub/internal/coremodel"
)

// sessionsDoc sessions 文档的磁盘结构
type sessionsDoc struct {
	Sessions map[coremodel.SessionID]coremodel.SessionRecord `json:"sessions"`
}

// SessionStore 会话持久化：单一 JSON 文档，每次变更立即落盘。
// 写入走临时文件加改名，避免进程中断留下半个文档。
type SessionStore struct {
	mu   sync.Mutex
	path string
	recs map[coremodel.SessionID]coremodel.SessionRecord
}

// OpenSessionStore 打开（或初始化）sessions 文档
func OpenSessionStore(path string) (*SessionStore, error) {
	s := &SessionStore{path: path, recs: make(map[coremodel.SessionID]coremodel.SessionRecord)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	var doc sessionsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	if doc.Sessions != nil {
		s.recs = doc.Sessions
	}
	return s, nil
}

// Put 写入（或覆盖）一条会话记录并立即落盘
func (s *SessionStore) Put(rec coremodel.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.recs[rec.ID]
	s.recs[rec.ID] = rec
	if err := s.flushLocked(); err != nil {
		if existed {
			s.recs[rec.ID] = prev
		} else {
			delete(s.recs, rec.ID)
		}
		return err
	}
	return nil
}

// Delete 删除一条会话记录并立即落盘
func (s *SessionStore) Delete(id coremodel.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.recs[id]
	if !existed {
		return nil
	}
	delete(s.recs, id)
	if err := s.flushLocked(); err != nil {
		s.recs[id] = prev
		return err
	}
	return nil
}

// Get 按ID读取会话记录
func (s *SessionStore) Get(id coremodel.SessionID) (coremodel.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok
}

// All 返回全部会话记录，按ID排序
func (s *SessionStore) All() []coremodel.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coremodel.SessionRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *SessionStore) flushLocked() error {
	doc := sessionsDoc{Sessions: s.recs}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode sessions: %v", coremodel.ErrStorageUnavailable, err)
	}
	return atomicWrite(s.path, data)
}

// atomicWrite 临时文件写入后改名覆盖目标
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tchub-*")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %v", coremodel.ErrStorageUnavailable, dir, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("%w: write %s: %v", coremodel.ErrStorageUnavailable, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: close %s: %v", coremodel.ErrStorageUnavailable, name, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: rename to %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	return nil
}
