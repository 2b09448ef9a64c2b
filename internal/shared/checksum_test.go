package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
)

func TestVerifyChecksum(t *testing.T) {
	data := []byte("payload")
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	assert.NoError(t, VerifyChecksum("", data))
	assert.NoError(t, VerifyChecksum(checksum, data))
	assert.NoError(t, VerifyChecksum(" "+checksum+" ", data))

	err := VerifyChecksum(checksum, []byte("other"))
	assert.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
