package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandergv/tchub/internal/coremodel"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	store, err := OpenSessionStore(path)
	require.NoError(t, err)

	rec := coremodel.SessionRecord{
		ID:          "200107221006",
		Board:       "B1",
		Sensor:      "s1",
		Description: coremodel.DescriptionOnChange,
		Kind:        coremodel.KindOpen,
		Alert:       coremodel.AlertConfig{Enabled: true, Min: 10, Max: 30},
		Active:      true,
		LogPath:     filepath.Join(dir, "values.csv"),
		CreatedAt:   "2020-01-07 22:10:06",
	}
	require.NoError(t, store.Put(rec))

	// 重新打开验证落盘内容
	reopened, err := OpenSessionStore(path)
	require.NoError(t, err)
	got, ok := reopened.Get("200107221006")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	require.NoError(t, reopened.Delete("200107221006"))
	_, ok = reopened.Get("200107221006")
	assert.False(t, ok)

	again, err := OpenSessionStore(path)
	require.NoError(t, err)
	assert.Empty(t, again.All())
}

func TestSessionStoreFlushPerMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	store, err := OpenSessionStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Put(coremodel.SessionRecord{ID: "a", Board: "B1", Sensor: "s1"}))

	// Put 返回后文档必须已在磁盘上
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a"`)
}

func TestDeviceStoreUpsertNoDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.json")
	store, err := OpenDeviceStore(path)
	require.NoError(t, err)

	rec := coremodel.DeviceRecord{
		ID:          "B1",
		Addr:        "192.168.1.20",
		ConnectedAt: "2020-01-07 22:00:00",
		Sensors:     []coremodel.SensorRecord{{ID: "s1", Model: "dht11", Measure: "C"}},
	}
	require.NoError(t, store.Upsert(rec))

	// 重连同一板卡：覆盖而非追加
	rec.Addr = "192.168.1.33"
	require.NoError(t, store.Upsert(rec))

	reopened, err := OpenDeviceStore(path)
	require.NoError(t, err)
	all := reopened.All()
	require.Len(t, all, 1)
	assert.Equal(t, "192.168.1.33", all[0].Addr)
}

func TestValueLogAppendOnly(t *testing.T) {
	dir := t.TempDir()
	log := NewValueLog(filepath.Join(dir, "B1_2020-01-07", "s1_values.csv"))
	require.NoError(t, log.Create())

	at := time.Date(2020, 1, 7, 22, 10, 6, 0, time.Local)
	require.NoError(t, log.Append(at, 21.5))
	require.NoError(t, log.Append(at.Add(time.Minute), 22))

	// 再次 Create 不得截断既有内容
	require.NoError(t, log.Create())

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "TimeStamp,Value", lines[0])
	assert.Equal(t, "2020-01-07 22:10:06,21.5", lines[1])
	assert.Equal(t, "2020-01-07 22:11:06,22", lines[2])

	require.NoError(t, log.Remove())
	_, err = os.Stat(log.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestEventLogAppend(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenEventLog(filepath.Join(dir, "logs.csv"))
	require.NoError(t, err)

	at := time.Date(2020, 1, 7, 22, 0, 0, 0, time.Local)
	require.NoError(t, log.Append(at, "alert", "Device B1 is Connected"))

	data, err := os.ReadFile(filepath.Join(dir, "logs.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "2020-01-07 22:00:00,alert,Device B1 is Connected")
}
