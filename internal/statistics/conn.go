package statistics

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// ConnectionRecordList tracks open CONNECT tunnels.
type ConnectionRecordList struct {
	recordAddChan    chan *ConnectionRecord
	recordRemoveChan chan *ConnectionRecord
	records          map[string]*ConnectionRecord
	mu               sync.RWMutex
	dumpFile         string
}

type ConnectionRecord struct {
	SrcAddr   string
	DestAddr  string
	StartTime time.Time
}

func (r *ConnectionRecord) key() string {
	return fmt.Sprintf("%s-%s", r.SrcAddr, r.DestAddr)
}

func NewConnectionRecordList(dumpFile string) *ConnectionRecordList {
	return &ConnectionRecordList{
		recordAddChan:    make(chan *ConnectionRecord, 500),
		recordRemoveChan: make(chan *ConnectionRecord, 500),
		records:          make(map[string]*ConnectionRecord, 500),
		dumpFile:         dumpFile,
	}
}

func (l *ConnectionRecordList) Add(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[record.key()]; exists {
		return
	}
	startTime := record.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}
	l.records[record.key()] = &ConnectionRecord{
		SrcAddr:   record.SrcAddr,
		DestAddr:  record.DestAddr,
		StartTime: startTime,
	}
}

func (l *ConnectionRecordList) Remove(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, record.key())
}

// Snapshot returns the open tunnels, newest first.
func (l *ConnectionRecordList) Snapshot() []ConnectionRecord {
	l.mu.RLock()
	out := make([]ConnectionRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (l *ConnectionRecordList) Dump() {
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	for _, record := range l.Snapshot() {
		duration := time.Since(record.StartTime)
		line := fmt.Sprintf("%s %s %d\n", record.SrcAddr, record.DestAddr, int(duration.Seconds()))
		if _, err := f.WriteString(line); err != nil {
			slog.Error("os.File.WriteString", slog.Any("error", err))
			return
		}
	}
}
