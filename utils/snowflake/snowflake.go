package snowflake

import (
	"errors"
	"sync"
	"time"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/pkg/clock"
)

// Layout: 41 bits of milliseconds since Epoch, 5 datacenter bits, 5 worker
// bits and a 12 bit per-millisecond sequence.
const (
	datacenterBits = 5
	workerBits     = 5
	sequenceBits   = 12

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits

	maxDatacenterID = -1 ^ (-1 << datacenterBits)
	maxWorkerID     = -1 ^ (-1 << workerBits)
	sequenceMask    = -1 ^ (-1 << sequenceBits)

	// Backward clock steps up to this size are absorbed by reusing the last
	// timestamp.
	maxDrift = 10
)

// Epoch is 2026-01-01T00:00:00Z in milliseconds.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

var (
	ErrInvalidWorkerID     = errors.New("snowflake: worker id out of range")
	ErrInvalidDatacenterID = errors.New("snowflake: datacenter id out of range")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator hands out chat message ids that sort by creation time.
type Generator struct {
	mu sync.Mutex

	clock        clock.Clock
	datacenterID int64
	workerID     int64

	sequence      int64
	lastTimestamp int64
}

func NewGenerator(cfg config.SnowflakeConfig, clk clock.Clock) (*Generator, error) {
	if cfg.DatacenterID < 0 || cfg.DatacenterID > maxDatacenterID {
		return nil, ErrInvalidDatacenterID
	}
	if cfg.WorkerID < 0 || cfg.WorkerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Generator{
		clock:        clk,
		datacenterID: cfg.DatacenterID,
		workerID:     cfg.WorkerID,
	}, nil
}

// NextID returns a positive id strictly greater than every id it returned
// before.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.clock.Now().UnixMilli()
	if ts < g.lastTimestamp {
		if g.lastTimestamp-ts > maxDrift {
			return 0, ErrClockMovedBackwards
		}
		ts = g.lastTimestamp
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			// Sequence exhausted: borrow the next millisecond.
			ts = g.lastTimestamp + 1
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	return (ts-Epoch)<<timestampShift |
		g.datacenterID<<datacenterShift |
		g.workerID<<workerShift |
		g.sequence, nil
}

// Parts is a decoded id.
type Parts struct {
	Time         time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

func Parse(id int64) Parts {
	return Parts{
		Time:         time.UnixMilli((id >> timestampShift) + Epoch).UTC(),
		DatacenterID: (id >> datacenterShift) & maxDatacenterID,
		WorkerID:     (id >> workerShift) & maxWorkerID,
		Sequence:     id & sequenceMask,
	}
}
