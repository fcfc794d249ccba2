package chain

import (
	crand "crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	sessionIdPrefix = "sess_"
	tokenIdPrefix   = "tok_"

	idBytes = 20
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newId returns prefix + 160 bits of crypto/rand, base32 encoded. The prefix
// makes ids recognizable in logs, the body keeps them non-enumerable.
func newId(prefix string) (string, error) {
	raw := make([]byte, idBytes)
	read, err := crand.Read(raw)
	if err != nil {
		return "", fmt.Errorf("rand read: %w", err)
	}
	if read != idBytes {
		return "", fmt.Errorf("bytes read %d / required %d", read, idBytes)
	}
	return prefix + strings.ToLower(idEncoding.EncodeToString(raw)), nil
}

func newSessionId() (string, error) {
	return newId(sessionIdPrefix)
}

func newTokenId() (string, error) {
	return newId(tokenIdPrefix)
}
