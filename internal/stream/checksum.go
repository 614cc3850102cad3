package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum computes a deterministic hex-encoded digest over a record's
// values, used by WithChecksum to populate the "checksum" bookkeeping
// column.
func Checksum(r Record) string {
	h := sha256.New()
	for _, v := range r {
		fmt.Fprintf(h, "%d:%v|", v.Kind, v.V)
	}
	return hex.EncodeToString(h.Sum(nil))
}
