package reminder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidPauseToken is returned when a pause token is malformed or the signature does not match.
	ErrInvalidPauseToken = errors.New("invalid pause token")
	// ErrPauseTokenExpired is returned when a pause token is past its expiry.
	ErrPauseTokenExpired = errors.New("pause token expired")
)

// DefaultPauseLinkTTL is how long a one-click pause link stays valid.
const DefaultPauseLinkTTL = 7 * 24 * time.Hour

// LinkSigner issues and verifies one-click pause tokens.
// Token format: "{experimentID}.{expiresUnix}.{hexHMAC}".
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewLinkSigner creates a signer. A non-positive ttl uses DefaultPauseLinkTTL.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = DefaultPauseLinkTTL
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a pause token for experimentID that expires ttl after now.
func (s *LinkSigner) Sign(experimentID string, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	return fmt.Sprintf("%s.%d.%s", experimentID, expires, s.signature(experimentID, expires))
}

// Verify checks the token and returns the experiment it was issued for.
func (s *LinkSigner) Verify(token string, now time.Time) (string, error) {
	// ULIDs contain no dots, so the last two separators delimit the fields.
	sigIdx := strings.LastIndexByte(token, '.')
	if sigIdx <= 0 {
		return "", ErrInvalidPauseToken
	}
	expIdx := strings.LastIndexByte(token[:sigIdx], '.')
	if expIdx <= 0 {
		return "", ErrInvalidPauseToken
	}

	experimentID := token[:expIdx]
	expires, err := strconv.ParseInt(token[expIdx+1:sigIdx], 10, 64)
	if err != nil {
		return "", ErrInvalidPauseToken
	}

	expected := s.signature(experimentID, expires)
	if !hmac.Equal([]byte(expected), []byte(token[sigIdx+1:])) {
		return "", ErrInvalidPauseToken
	}
	if now.Unix() > expires {
		return "", ErrPauseTokenExpired
	}
	return experimentID, nil
}

func (s *LinkSigner) signature(experimentID string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s.%d", experimentID, expires)))
	return hex.EncodeToString(mac.Sum(nil))
}
