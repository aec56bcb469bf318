package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Invitation token format: inv_{prefix}_{secret}
// Example: inv_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	InvitePrefixLen = 6  // hex encoded 3 bytes
	InviteSecretLen = 32 // hex encoded 16 bytes
)

var (
	// ErrInvalidInviteFormat indicates the token does not match inv_{prefix}_{secret}.
	ErrInvalidInviteFormat = errors.New("invalid invitation token format")

	inviteFormatRegex = regexp.MustCompile(`^inv_([a-f0-9]{6})_([a-f0-9]{32})$`)
)

// GeneratedInvite holds a newly minted invitation token.
type GeneratedInvite struct {
	Plaintext string // delivered to the invitee once
	Hash      string // Argon2id hash for storage
	Prefix    string // indexed for lookup
}

// GenerateInviteToken creates a new invitation token.
func GenerateInviteToken() (*GeneratedInvite, error) {
	prefixBytes := make([]byte, 3)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)

	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := fmt.Sprintf("inv_%s_%s", prefix, hex.EncodeToString(secretBytes))

	hash, err := HashSecret(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash invite: %w", err)
	}

	return &GeneratedInvite{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

// InvitePrefix validates token and returns its lookup prefix.
func InvitePrefix(token string) (string, error) {
	matches := inviteFormatRegex.FindStringSubmatch(token)
	if matches == nil {
		return "", ErrInvalidInviteFormat
	}
	return matches[1], nil
}
