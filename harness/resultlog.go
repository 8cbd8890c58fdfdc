// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package harness

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/ezrec/r5vm/emulator"
)

// Bucket of report records, keyed by case name, a zero byte, and a big
// endian sequence number.
var bucketRuns = []byte("runs")

// Record is the persisted form of a report.
type Record struct {
	Case        string
	Program     string
	Sequence    uint64
	Pass        bool
	Error       string
	Digest      string
	State       string
	Reason      string
	Fault       string
	ReturnValue int32
	Steps       uint64
	Snapshots   []emulator.Snapshot
}

// NewRecord converts a report into a record.
func NewRecord(report Report) (rec Record) {
	rec = Record{
		Case:    report.Case,
		Program: report.Program,
		Pass:    report.Pass,
		Digest:  report.Digest,
	}
	if report.Err != nil {
		rec.Error = report.Err.Error()
	}
	if result := report.Result; result != nil {
		rec.State = result.State.String()
		rec.Reason = result.Reason.String()
		rec.ReturnValue = result.ReturnValue
		rec.Steps = result.Stats.Steps
		rec.Snapshots = result.Snapshots
		if result.Fault != nil {
			rec.Fault = result.Fault.Kind.String()
		}
	}
	return
}

// ResultLog is a persistent, append only history of reports.
type ResultLog struct {
	mutex   sync.Mutex
	db      *bolt.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenResultLog creates or opens a result log database.
func OpenResultLog(path string) (rl *ResultLog, err error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return
	}

	rl = &ResultLog{
		db:      db,
		encoder: encoder,
		decoder: decoder,
	}

	return
}

// Close closes the database.
func (rl *ResultLog) Close() (err error) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.db == nil {
		return ErrLogClosed
	}

	rl.decoder.Close()
	err = rl.encoder.Close()
	if db_err := rl.db.Close(); err == nil {
		err = db_err
	}
	rl.db = nil

	return
}

func runKey(name string, seq uint64) []byte {
	key := append([]byte(name), 0)
	return binary.BigEndian.AppendUint64(key, seq)
}

// Record appends a report to the log.
func (rl *ResultLog) Record(report Report) (err error) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.db == nil {
		return ErrLogClosed
	}

	rec := NewRecord(report)

	return rl.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		rec.Sequence = seq

		var payload bytes.Buffer
		err = gob.NewEncoder(&payload).Encode(&rec)
		if err != nil {
			return err
		}

		return bucket.Put(runKey(rec.Case, seq), rl.encoder.EncodeAll(payload.Bytes(), nil))
	})
}

// History returns every record of a case, oldest first.
func (rl *ResultLog) History(name string) (records []Record, err error) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.db == nil {
		err = ErrLogClosed
		return
	}

	prefix := append([]byte(name), 0)

	err = rl.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketRuns).Cursor()
		for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
			payload, err := rl.decoder.DecodeAll(value, nil)
			if err != nil {
				return err
			}
			var rec Record
			err = gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})

	return
}

// Latest returns the most recent record of a case.
func (rl *ResultLog) Latest(name string) (rec Record, ok bool, err error) {
	records, err := rl.History(name)
	if err != nil || len(records) == 0 {
		return
	}
	return records[len(records)-1], true, nil
}
