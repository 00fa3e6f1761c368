package frames

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

const (
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// IDLength gives an id space of 62^14
	IDLength = 14
)

var alphabetSize = big.NewInt(int64(len(idAlphabet)))

// NewID returns a random frame id drawn uniformly from the 62-symbol alphabet.
func NewID() (string, error) {
	var b strings.Builder
	b.Grow(IDLength)
	for i := 0; i < IDLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", errors.Wrap(err, "failed to read random id")
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidID reports whether id only contains characters of the id alphabet.
// Ids written by older deployments may differ in length, so only the
// character set is checked.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(idAlphabet, id[i]) < 0 {
			return false
		}
	}
	return true
}
