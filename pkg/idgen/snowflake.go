package idgen

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Snowflake IDs: 41 bits of milliseconds since epoch, 10 bits of worker id,
// 12 bits of per-millisecond sequence. Trend-increasing, which keeps the
// unique indexes on transaction and withdrawal numbers cheap.
const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init sets up the default generator. Call once at startup.
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID must be between 0 and %d", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

func NextID() int64 {
	if defaultGenerator == nil {
		Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return (now-epoch)<<timestampShift | s.workerID<<workerIDShift | s.sequence
}

// GenerateTransactionNo returns a journal row number.
func GenerateTransactionNo() string {
	return fmt.Sprintf("TXN%d", NextID())
}

// GenerateWithdrawalNo returns a withdrawal record number.
func GenerateWithdrawalNo() string {
	return fmt.Sprintf("WDR%d", NextID())
}
