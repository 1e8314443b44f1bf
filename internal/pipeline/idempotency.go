package pipeline

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// IdempotencyKey fingerprints a submission: the same user sending the same
// instruction with the same image gets the same key.
func IdempotencyKey(userID, instructionText string, image []byte) string {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes

	var length [8]byte
	for _, part := range [][]byte{[]byte(userID), []byte(instructionText), image} {
		binary.BigEndian.PutUint64(length[:], uint64(len(part)))
		h.Write(length[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
