package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RoadCount is the fixed number of approaches the controller drives.
const RoadCount = 4

// RoadID identifies one approach, 1 through RoadCount.
type RoadID int

func (r RoadID) Valid() bool {
	return r >= 1 && r <= RoadCount
}

// Index is the zero based slot of the road in per-road arrays.
func (r RoadID) Index() int {
	return int(r) - 1
}

// Roads lists every road id in ascending order.
func Roads() []RoadID {
	ids := make([]RoadID, 0, RoadCount)
	for i := 1; i <= RoadCount; i++ {
		ids = append(ids, RoadID(i))
	}
	return ids
}

var ErrMalformedCount = errors.New("malformed count vector")

// Counts holds one vehicle count per road, road 1 first.
type Counts [RoadCount]int

func (c Counts) String() string {
	return string(c.appendText(nil))
}

func (c Counts) appendText(b []byte) []byte {
	for i, n := range c {
		if i > 0 {
			b = append(b, ' ')
		}
		b = strconv.AppendInt(b, int64(n), 10)
	}
	return b
}

// ParseCounts validates the count source contents: exactly RoadCount
// whitespace separated non-negative base 10 integers.
func ParseCounts(raw string) (Counts, error) {
	var counts Counts
	fields := strings.Fields(raw)
	if len(fields) != RoadCount {
		return counts, fmt.Errorf("%w: want %d values, got %d", ErrMalformedCount, RoadCount, len(fields))
	}
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return counts, fmt.Errorf("%w: value %d %q is not an integer", ErrMalformedCount, i+1, f)
		}
		if n < 0 {
			return counts, fmt.Errorf("%w: value %d is negative (%d)", ErrMalformedCount, i+1, n)
		}
		counts[i] = n
	}
	return counts, nil
}
