package statistics

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// PassThroughRecordList counts exchanges no rule changed, per host and method.
type PassThroughRecordList struct {
	recordAddChan chan *PassThroughRecord
	records       map[string]*PassThroughRecord
	mu            sync.RWMutex
	dumpFile      string
}

type PassThroughRecord struct {
	SrcAddr string
	Host    string
	Method  string
	Count   int
}

func NewPassThroughRecordList(dumpFile string) *PassThroughRecordList {
	return &PassThroughRecordList{
		recordAddChan: make(chan *PassThroughRecord, 100),
		records:       make(map[string]*PassThroughRecord, 100),
		dumpFile:      dumpFile,
	}
}

func (l *PassThroughRecordList) Add(record *PassThroughRecord) {
	key := record.Method + " " + record.Host

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[key]; exists {
		r.Count++
		r.SrcAddr = record.SrcAddr
		return
	}
	l.records[key] = &PassThroughRecord{
		SrcAddr: record.SrcAddr,
		Host:    record.Host,
		Method:  record.Method,
		Count:   1,
	}
}

func (l *PassThroughRecordList) Snapshot() []PassThroughRecord {
	l.mu.RLock()
	out := make([]PassThroughRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

func (l *PassThroughRecordList) Dump() {
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

	w := bufio.NewWriter(f)
	defer func() {
		if err := w.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, record := range l.Snapshot() {
		_, err := fmt.Fprintf(w, "%s %s %d %s\n",
			record.Method, record.Host, record.Count, record.SrcAddr)
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
