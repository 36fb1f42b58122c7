package layergroup

import (
	"fmt"
	"strconv"
	"strings"
)

// Token is the public layergroup identifier: digest, optionally suffixed
// with the freshness epoch in milliseconds.
type Token struct {
	Digest   string
	Epoch    int64
	HasEpoch bool
}

func NewToken(digest string, epoch int64, known bool) Token {
	return Token{Digest: digest, Epoch: epoch, HasEpoch: known}
}

func (t Token) String() string {
	if !t.HasEpoch {
		return t.Digest
	}
	return t.Digest + ":" + strconv.FormatInt(t.Epoch, 10)
}

// Ref is a token as it appears in a fetch path. Anything after the first
// colon is a cache buster and never part of the identity.
type Ref struct {
	Digest string
	Buster string
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	digest, buster, _ := strings.Cut(s, ":")
	if !isDigest(digest) {
		return Ref{}, &NotFoundError{What: fmt.Sprintf("layergroup %q", digest)}
	}
	return Ref{Digest: digest, Buster: buster}, nil
}

func isDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
