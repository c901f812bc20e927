package core

import (
	"math"
	"strconv"
)

// LogicalTime is the federation's simulated time, expressed in whatever
// unit the federation agrees on (commonly seconds). It is distinct from
// wall-clock time.Time: the runtime advances it only via granted time
// requests (spec §3, §4.3), never via a system clock.
type LogicalTime float64

// MaxTime represents "no outstanding request" / an unconstrained future
// time (spec §3: "timeRequest — outstanding request, or ∞ if none").
const MaxTime = LogicalTime(math.MaxFloat64)

// ZeroTime is the initial granted time for every federate/broker before any
// time request has been granted.
const ZeroTime LogicalTime = 0

func (t LogicalTime) String() string {
	if t == MaxTime {
		return "+inf"
	}
	return strconv.FormatFloat(float64(t), 'g', -1, 64)
}

// Min returns the smaller of a and b.
func minTime(a, b LogicalTime) LogicalTime {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func maxTime(a, b LogicalTime) LogicalTime {
	if a > b {
		return a
	}
	return b
}
