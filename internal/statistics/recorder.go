// Package statistics keeps in-memory counters of what the proxy rewrote and
// periodically dumps them next to the log file.
package statistics

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

const DefaultDumpInterval = 5 * time.Second

const (
	rewriteStatsFile = "rewrite_stats"
	passStatsFile    = "pass_stats"
	connStatsFile    = "conn_stats"
)

// Recorder fans records out to the per-kind lists. Records are queued and
// dropped when the queue is full so the proxy never blocks on bookkeeping.
type Recorder struct {
	RewriteRecordList     *RewriteRecordList
	PassThroughRecordList *PassThroughRecordList
	ConnectionRecordList  *ConnectionRecordList

	interval time.Duration
	wg       sync.WaitGroup
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{
		RewriteRecordList:     NewRewriteRecordList(filepath.Join(dir, rewriteStatsFile)),
		PassThroughRecordList: NewPassThroughRecordList(filepath.Join(dir, passStatsFile)),
		ConnectionRecordList:  NewConnectionRecordList(filepath.Join(dir, connStatsFile)),
		interval:              DefaultDumpInterval,
	}
}

// Start runs the collector until ctx is done. A final dump is written on
// the way out.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case record := <-r.RewriteRecordList.recordAddChan:
				r.RewriteRecordList.Add(record)
			case record := <-r.PassThroughRecordList.recordAddChan:
				r.PassThroughRecordList.Add(record)
			case record := <-r.ConnectionRecordList.recordAddChan:
				r.ConnectionRecordList.Add(record)
			case record := <-r.ConnectionRecordList.recordRemoveChan:
				r.ConnectionRecordList.Remove(record)
			case <-ticker.C:
				r.Dump()
			case <-ctx.Done():
				r.Dump()
				return
			}
		}
	}()
}

// Wait blocks until the collector started by Start has exited.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) Dump() {
	r.RewriteRecordList.Dump()
	r.PassThroughRecordList.Dump()
	r.ConnectionRecordList.Dump()
}

// AddRecord queues a record. A nil Recorder ignores it.
func (r *Recorder) AddRecord(record any) {
	if r == nil {
		return
	}
	switch rec := record.(type) {
	case *RewriteRecord:
		enqueue(r.RewriteRecordList.recordAddChan, rec)
	case *PassThroughRecord:
		enqueue(r.PassThroughRecordList.recordAddChan, rec)
	case *ConnectionRecord:
		enqueue(r.ConnectionRecordList.recordAddChan, rec)
	default:
		slog.Warn("Unknown statistics record", slog.Any("record", record))
	}
}

func (r *Recorder) RemoveRecord(record any) {
	if r == nil {
		return
	}
	if rec, ok := record.(*ConnectionRecord); ok {
		enqueue(r.ConnectionRecordList.recordRemoveChan, rec)
	}
}

func enqueue[T any](ch chan *T, record *T) {
	select {
	case ch <- record:
	default:
	}
}
