// Package token implements the share token of §6: a textual value carrying
// {access_mode, access_secrets(according to mode), optional suggested_name},
// parsed canonically and comparable by normalised form. Grounded on
// original_source/ffi/src/share_token.rs for the field set (the distilled
// spec only names the token in passing) and on the teacher's path.go for
// suggested_name's separator-rejecting validation.
package token

import (
	"encoding/base32"
	"strings"

	"github.com/cellstate/branchsync/crypto"
)

// Mode is the access level a token grants, per §3's "Access secrets" three
// levels.
type Mode uint8

const (
	ModeBlind Mode = iota
	ModeRead
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeBlind:
		return "blind"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// scheme is the token's URI-like prefix.
const scheme = "branchsync://"

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Token is a parsed share token: the repository id, the secrets it carries
// (only the ones Mode implies are meaningful), and an optional display
// name suggestion.
type Token struct {
	Mode          Mode
	RepositoryID  crypto.Hash
	ReadKey       crypto.Key  // valid when Mode >= ModeRead
	WritePrivate  []byte      // ed25519 private key, valid when Mode == ModeWrite
	SuggestedName string
}

// New builds a blind token: repository id only.
func New(repositoryID crypto.Hash) Token {
	return Token{Mode: ModeBlind, RepositoryID: repositoryID}
}

// WithReadKey upgrades the token to read access.
func (t Token) WithReadKey(key crypto.Key) Token {
	t.Mode = ModeRead
	t.ReadKey = key
	return t
}

// WithWriteKey upgrades the token to write access, implying read access:
// §3's access levels are cumulative ("Write: above + ed25519 signing
// keypair").
func (t Token) WithWriteKey(readKey crypto.Key, writePrivate []byte) Token {
	t.Mode = ModeWrite
	t.ReadKey = readKey
	t.WritePrivate = append([]byte(nil), writePrivate...)
	return t
}

// WithSuggestedName attaches a display-name hint, validated the way vfs
// validates a path component: it must not embed a path separator.
func (t Token) WithSuggestedName(name string) (Token, error) {
	if strings.Contains(name, "/") {
		return Token{}, ErrInvalidSuggestedName
	}
	t.SuggestedName = name
	return t, nil
}

// String renders the token in its canonical textual form:
// branchsync://<mode><repo-id>[<secrets>]/<suggested-name>.
func (t Token) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteByte(byte('0' + t.Mode))
	b.WriteString(encoding.EncodeToString(t.RepositoryID[:]))
	if t.Mode >= ModeRead {
		b.WriteString(encoding.EncodeToString(t.ReadKey[:]))
	}
	if t.Mode == ModeWrite {
		b.WriteString(encoding.EncodeToString(t.WritePrivate))
	}
	if t.SuggestedName != "" {
		b.WriteByte('/')
		b.WriteString(t.SuggestedName)
	}
	return b.String()
}

// Parse decodes a token string produced by String.
func Parse(s string) (Token, error) {
	if !strings.HasPrefix(s, scheme) {
		return Token{}, ErrMalformed
	}
	rest := s[len(scheme):]

	var suggestedName string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		suggestedName = rest[i+1:]
		rest = rest[:i]
	}
	if strings.Contains(suggestedName, "/") {
		return Token{}, ErrInvalidSuggestedName
	}

	if len(rest) < 1 {
		return Token{}, ErrMalformed
	}
	mode := Mode(rest[0] - '0')
	if mode > ModeWrite {
		return Token{}, ErrMalformed
	}
	rest = rest[1:]

	repoLen := encoding.EncodedLen(crypto.HashSize)
	if len(rest) < repoLen {
		return Token{}, ErrMalformed
	}
	repoBytes, err := encoding.DecodeString(rest[:repoLen])
	if err != nil || len(repoBytes) != crypto.HashSize {
		return Token{}, ErrMalformed
	}
	rest = rest[repoLen:]

	t := Token{Mode: mode, SuggestedName: suggestedName}
	copy(t.RepositoryID[:], repoBytes)

	if mode >= ModeRead {
		keyLen := encoding.EncodedLen(crypto.KeySize)
		if len(rest) < keyLen {
			return Token{}, ErrMalformed
		}
		keyBytes, err := encoding.DecodeString(rest[:keyLen])
		if err != nil || len(keyBytes) != crypto.KeySize {
			return Token{}, ErrMalformed
		}
		copy(t.ReadKey[:], keyBytes)
		rest = rest[keyLen:]
	}

	if mode == ModeWrite {
		privBytes, err := encoding.DecodeString(rest)
		if err != nil || len(privBytes) == 0 {
			return Token{}, ErrMalformed
		}
		t.WritePrivate = privBytes
		rest = ""
	}

	if rest != "" {
		return Token{}, ErrMalformed
	}
	return t, nil
}

// Equal compares two tokens by normalised form: identical mode, secrets and
// repository id, ignoring the cosmetic suggested_name.
func (t Token) Equal(other Token) bool {
	if t.Mode != other.Mode || t.RepositoryID != other.RepositoryID {
		return false
	}
	if t.Mode >= ModeRead && t.ReadKey != other.ReadKey {
		return false
	}
	if t.Mode == ModeWrite && string(t.WritePrivate) != string(other.WritePrivate) {
		return false
	}
	return true
}
