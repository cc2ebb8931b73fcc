package storage

import "fmt"

// Key schema for Pebble:
//
//   ord:<orderID> -> Order (JSON)
//   job:<jobID>   -> Job (JSON)

const (
	prefixOrder = "ord:"
	prefixJob   = "job:"
)

func orderKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrder, id))
}

func jobKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixJob, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
