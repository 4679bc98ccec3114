package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"custodia/internal/domain"
)

const DigestSize = sha256.Size

func Sum(input []byte) []byte {
	sum := sha256.Sum256(input)
	return sum[:]
}

func SumHex(input []byte) string {
	return hex.EncodeToString(Sum(input))
}

// HashFields hashes the concatenation of fields. Each field is preceded by
// its length so that no two distinct field lists share an encoding.
func HashFields(fields ...[]byte) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:])
		h.Write(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func HashStrings(fields ...string) string {
	raw := make([][]byte, len(fields))
	for i, f := range fields {
		raw[i] = []byte(f)
	}
	return HashFields(raw...)
}

func FormatTime(t time.Time) string {
	return domain.NormalizeTime(t).Format(time.RFC3339Nano)
}

func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func DecodeDigest(value string) ([]byte, error) {
	if !domain.ValidDigest(value) {
		return nil, domain.NewValidationError("digest", "must be 64 lowercase hex chars")
	}
	return hex.DecodeString(value)
}
