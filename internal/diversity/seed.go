package diversity

import (
	crand "crypto/rand"
	"encoding/binary"
)

// cryptoSeed draws a 64-bit seed from the CSPRNG so the default random
// stream is unpredictable while tests can still inject a fixed source.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("diversity: read csprng seed: " + err.Error())
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
