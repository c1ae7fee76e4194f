package statistics

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// RewriteRecordList counts applied rules per host, rule kind and direction.
type RewriteRecordList struct {
	recordAddChan chan *RewriteRecord
	records       map[rewriteKey]*RewriteRecord
	mu            sync.RWMutex

	dumpRecords []*RewriteRecord
	dumpFile    string
	dumpWriter  *bufio.Writer
}

type RewriteRecord struct {
	Host      string
	Kind      string
	Direction string
	Rule      string
	Count     int
}

type rewriteKey struct {
	host      string
	kind      string
	direction string
}

func NewRewriteRecordList(dumpFile string) *RewriteRecordList {
	return &RewriteRecordList{
		recordAddChan: make(chan *RewriteRecord, 100),
		records:       make(map[rewriteKey]*RewriteRecord, 300),
		dumpRecords:   make([]*RewriteRecord, 0, 300),
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

func (l *RewriteRecordList) Add(record *RewriteRecord) {
	key := rewriteKey{host: record.Host, kind: record.Kind, direction: record.Direction}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[key]; exists {
		r.Count++
		r.Rule = record.Rule
		return
	}
	l.records[key] = &RewriteRecord{
		Host:      record.Host,
		Kind:      record.Kind,
		Direction: record.Direction,
		Rule:      record.Rule,
		Count:     1,
	}
}

// Snapshot returns a copy of the records, most frequent first.
func (l *RewriteRecordList) Snapshot() []RewriteRecord {
	l.mu.RLock()
	out := make([]RewriteRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Host < out[j].Host
	})
	return out
}

func (l *RewriteRecordList) Dump() {
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

	l.dumpRecords = l.dumpRecords[:0]
	l.mu.RLock()
	for _, record := range l.records {
		l.dumpRecords = append(l.dumpRecords, record)
	}
	sort.SliceStable(l.dumpRecords, func(i, j int) bool {
		return l.dumpRecords[i].Count > l.dumpRecords[j].Count
	})

	l.dumpWriter.Reset(f)
	for _, record := range l.dumpRecords {
		_, err := fmt.Fprintf(l.dumpWriter, "%s %s %s %d %s\n",
			record.Host, record.Kind, record.Direction, record.Count, record.Rule)
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
	l.mu.RUnlock()

	if err := l.dumpWriter.Flush(); err != nil {
		slog.Error("bufio.Writer.Flush", slog.Any("error", err))
	}
}
