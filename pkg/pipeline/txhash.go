package pipeline

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// NewTxHash returns an execution reference unique across all orders:
// keccak-256 over the nanosecond timestamp plus 16 random bytes, hex-encoded.
func NewTxHash() string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
	if _, err := io.ReadFull(rand.Reader, buf[8:]); err != nil {
		// crypto/rand failing means the host is broken; the timestamp alone
		// still gives nanosecond uniqueness within this process.
		binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))
	}
	return crypto.Keccak256Hash(buf[:]).Hex()
}
