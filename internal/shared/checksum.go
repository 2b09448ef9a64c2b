package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// VerifyChecksum compares data against a hex sha256. An empty expected
// checksum always verifies.
func VerifyChecksum(expected string, data []byte) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("checksum mismatch: expected %s, got %s", expected, actual))
	}
	return nil
}
