package event

// Log is the ordered, append-only record sequence of one run.
// Not thread-safe; only accessed from the single-threaded engine loop.
type Log struct {
	records []Record
	hasher  *stateHasher
}

func NewLog() *Log {
	return &Log{hasher: newStateHasher()}
}

// Append assigns the next sequence number and the hash chain links, stores
// the record, and returns the completed copy. Records are immutable once
// appended.
func (l *Log) Append(r Record) Record {
	r.Seq = int64(len(l.records))
	r.PrevHash = l.hasher.prevHash
	r.StateHash = l.hasher.computeHash(r.Seq, r.digest())

	l.records = append(l.records, r)
	return r
}

// Len returns the number of appended records.
func (l *Log) Len() int { return len(l.records) }

// Head returns the current chain tip. Two runs with identical inputs end
// with identical heads.
func (l *Log) Head() [32]byte { return l.hasher.prevHash }

// Records returns a copy of the appended sequence.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// At returns the record at index i.
func (l *Log) At(i int) Record { return l.records[i] }
