package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sandergv/tchub/internal/coremodel"
)

// devicesDoc devices 文档的磁盘结构
type devicesDoc struct {
	Devices map[coremodel.BoardID]coremodel.DeviceRecord `json:"devices"`
}

// DeviceStore 板卡持久化：按板卡ID键控覆盖写入，
// 重复连接只更新既有条目，不追加重复记录。
type DeviceStore struct {
	mu   sync.Mutex
	path string
	recs map[coremodel.BoardID]coremodel.DeviceRecord
}

// OpenDeviceStore 打开（或初始化）devices 文档
func OpenDeviceStore(path string) (*DeviceStore, error) {
	s := &DeviceStore{path: path, recs: make(map[coremodel.BoardID]coremodel.DeviceRecord)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	var doc devicesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	if doc.Devices != nil {
		s.recs = doc.Devices
	}
	return s, nil
}

// Upsert 写入或覆盖一条板卡记录并立即落盘
func (s *DeviceStore) Upsert(rec coremodel.DeviceRecord) error {
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

// All 返回全部板卡记录，按ID排序
func (s *DeviceStore) All() []coremodel.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coremodel.DeviceRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *DeviceStore) flushLocked() error {
	data, err := json.MarshalIndent(devicesDoc{Devices: s.recs}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode devices: %v", coremodel.ErrStorageUnavailable, err)
	}
	return atomicWrite(s.path, data)
}
