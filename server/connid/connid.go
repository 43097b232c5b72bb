// Package connid hands out process-unique peer ids
package connid

import (
	"strconv"
	"sync/atomic"
)

// ID identifies one accepted peer connection
type ID uint64

func (id ID) String() string {
	return "peer-" + strconv.FormatUint(uint64(id), 10)
}

var counter atomic.Uint64

// Next returns the next id; ids start at 1
func Next() ID {
	return ID(counter.Add(1))
}
