package repo

import (
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/token"
)

// Secrets is the access material a repository handle actually holds,
// per §3's "Access secrets" three levels, already resolved to an
// effective mode (never higher than what the inputs to DeriveAccess
// could support).
type Secrets struct {
	Mode         token.Mode
	RepositoryID crypto.Hash
	ReadKey      crypto.Key
	SigningKey   crypto.SigningKey // zero value when Mode < ModeWrite
}

// AccessParams is everything DeriveAccess needs to resolve a repository's
// effective secrets at creation or at open time, per §6's "Access tokens
// accepted at creation: optional share token..., optional local read
// password, optional local write password."
type AccessParams struct {
	ShareToken         *token.Token
	LocalWritePassword []byte
	LocalReadPassword  []byte
}

// DeriveAccess resolves AccessParams against whatever secrets are already
// stored for this repository (nil on first creation), per the precedence
// supplemented from original_source/lib/src/repository/{mod,metadata}.rs:
//   - a share token's secrets seed the store only if the store holds none
//     yet (existing != nil always wins over a token, since the token
//     cannot grant more than what was already established for this
//     repository id);
//   - an explicit local write password mints a fresh writer keypair when
//     the existing store holds no write secrets, or, on first creation,
//     when no share token is given, establishing this repository as the
//     one that public key identifies; on first creation together with a
//     share token that grants no write access it fails with
//     ErrInvalidAccessToken instead;
//   - an explicit local read password mints a fresh read key when the
//     existing store holds only blind secrets, or, on first creation, when
//     neither a share token nor a write password is given; a share token
//     path never mints, so a blind token stays blind;
//   - a local password never downgrades access; it only additionally
//     wraps whatever secrets end up stored (handled by the metadata
//     layer, not here).
func DeriveAccess(params AccessParams, existing *Secrets) (Secrets, error) {
	if existing != nil {
		return upgradeExisting(*existing, params)
	}

	if params.ShareToken != nil {
		return fromToken(*params.ShareToken, params)
	}

	if len(params.LocalWritePassword) > 0 {
		return mintWrite()
	}
	if len(params.LocalReadPassword) > 0 {
		return mintRead(crypto.Hash{})
	}

	return Secrets{}, ErrInvalidAccessToken
}

func upgradeExisting(existing Secrets, params AccessParams) (Secrets, error) {
	if existing.Mode == token.ModeWrite {
		return existing, nil
	}
	if len(params.LocalWritePassword) > 0 {
		return mintWriteOver(existing)
	}
	if existing.Mode == token.ModeRead {
		return existing, nil
	}
	if len(params.LocalReadPassword) > 0 {
		return mintReadOver(existing)
	}
	return existing, nil
}

func fromToken(tok token.Token, params AccessParams) (Secrets, error) {
	s := Secrets{Mode: tok.Mode, RepositoryID: tok.RepositoryID}
	switch tok.Mode {
	case token.ModeWrite:
		s.ReadKey = tok.ReadKey
		pub := derivePublicFromPrivate(tok.WritePrivate)
		s.SigningKey = crypto.SigningKey{Public: pub, Private: tok.WritePrivate}
	case token.ModeRead:
		s.ReadKey = tok.ReadKey
	}

	if len(params.LocalWritePassword) > 0 && s.Mode != token.ModeWrite {
		return Secrets{}, ErrInvalidAccessToken
	}
	return s, nil
}

func mintWrite() (Secrets, error) {
	readKey, err := crypto.GenerateKey()
	if err != nil {
		return Secrets{}, err
	}
	signKey, err := crypto.GenerateSigningKey()
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{
		Mode:         token.ModeWrite,
		RepositoryID: signKey.WriterID(),
		ReadKey:      readKey,
		SigningKey:   signKey,
	}, nil
}

func mintWriteOver(existing Secrets) (Secrets, error) {
	signKey, err := crypto.GenerateSigningKey()
	if err != nil {
		return Secrets{}, err
	}
	readKey := existing.ReadKey
	if existing.Mode == token.ModeBlind {
		k, err := crypto.GenerateKey()
		if err != nil {
			return Secrets{}, err
		}
		readKey = k
	}
	return Secrets{
		Mode:         token.ModeWrite,
		RepositoryID: existing.RepositoryID,
		ReadKey:      readKey,
		SigningKey:   signKey,
	}, nil
}

func mintRead(repositoryID crypto.Hash) (Secrets, error) {
	readKey, err := crypto.GenerateKey()
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{Mode: token.ModeRead, RepositoryID: repositoryID, ReadKey: readKey}, nil
}

func mintReadOver(existing Secrets) (Secrets, error) {
	readKey, err := crypto.GenerateKey()
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{Mode: token.ModeRead, RepositoryID: existing.RepositoryID, ReadKey: readKey}, nil
}

// derivePublicFromPrivate recovers the ed25519 public half embedded in the
// tail of a 64-byte private key, the same layout crypto/ed25519 uses.
func derivePublicFromPrivate(private []byte) []byte {
	if len(private) < 32 {
		return nil
	}
	return append([]byte(nil), private[32:]...)
}
