// Package repo implements the top-level repository handle of §4.G: access
// secrets, the metadata surface of §6, and the four background workers
// (merge, scan, prune, trash) debounced over the repository's event
// broadcaster. Grounded on the teacher's fs.go for store lifecycle and on
// original_source/lib/src/repository/{mod,metadata}.rs for the access and
// metadata precedence the distilled spec only names in passing.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/blob"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
	"github.com/cellstate/branchsync/token"
)

// Config holds the configurable, per-repository knobs named in §6's
// "configurable keys" (the subset that lives inside the repository file
// rather than its companion config store).
type Config struct {
	Quota            uint64 // bytes; 0 = unlimited
	WatchdogInterval time.Duration
	Logger           zerolog.Logger
}

// Repo is an open repository: its store, the resolved access secrets, and
// the background workers maintaining it.
type Repo struct {
	store    *store.Store
	secrets  Secrets
	deviceID crypto.Hash
	events   *Broadcaster
	log      zerolog.Logger
	locks    *blob.Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// Create initializes a brand-new repository file at path with the given
// access parameters, per §6's "Access tokens accepted at creation."
func Create(path string, params AccessParams, cfg Config) (*Repo, error) {
	s, err := store.Create(path, store.Options{Logger: cfg.Logger, WatchdogInterval: cfg.WatchdogInterval})
	if errors.Is(err, os.ErrExist) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}

	secrets, err := DeriveAccess(params, nil)
	if err != nil {
		s.Close()
		return nil, err
	}

	deviceID, err := initializeMetadata(s, secrets, params, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	locks := blob.NewRegistry()
	if secrets.Mode == token.ModeWrite {
		if err := initializeRoot(s, locks, secrets); err != nil {
			s.Close()
			return nil, err
		}
	}

	return newRepo(s, secrets, deviceID, locks, cfg), nil
}

// Open attaches to an existing repository file, resolving access against
// whatever secrets are already stored and the access params supplied this
// time (e.g. a password to unlock a write key stored encrypted).
func Open(path string, params AccessParams, cfg Config) (*Repo, error) {
	s, err := store.Open(path, store.Options{Logger: cfg.Logger, WatchdogInterval: cfg.WatchdogInterval})
	if err != nil {
		return nil, err
	}

	existing, err := loadStoredSecrets(s, params)
	if err != nil {
		s.Close()
		return nil, err
	}
	secrets, err := DeriveAccess(params, existing)
	if err != nil {
		s.Close()
		return nil, err
	}

	rtx, err := s.BeginRead()
	if err != nil {
		s.Close()
		return nil, err
	}
	raw, ok := GetPublic(rtx, keyDeviceID)
	rtx.Rollback()
	var deviceID crypto.Hash
	if ok {
		copy(deviceID[:], raw)
	}

	if cfg.Quota != 0 {
		wtx, err := s.BeginWrite()
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := block.SetQuota(wtx, cfg.Quota); err != nil {
			wtx.Rollback()
			s.Close()
			return nil, err
		}
		if err := wtx.Commit(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return newRepo(s, secrets, deviceID, blob.NewRegistry(), cfg), nil
}

func newRepo(s *store.Store, secrets Secrets, deviceID crypto.Hash, locks *blob.Registry, cfg Config) *Repo {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Repo{
		store:    s,
		secrets:  secrets,
		deviceID: deviceID,
		events:   NewBroadcaster(),
		log:      cfg.Logger,
		locks:    locks,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.startWorkers(ctx)
	return r
}

// startWorkers launches the four background workers named in §4.G, each
// subscribed to the repository's event broadcaster, debounced ~1s.
func (r *Repo) startWorkers(ctx context.Context) {
	specs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"merge", mergeWorker(r.store)},
		{"scan", scanWorker(r.store)},
		{"prune", pruneWorker(r.store)},
		{"trash", trashWorker(r.store)},
	}

	remaining := len(specs)
	finished := make(chan struct{}, len(specs))
	for _, spec := range specs {
		ch, unsubscribe := r.events.Subscribe()
		go func(name string, fn func(context.Context) error, ch <-chan EventKind, unsubscribe func()) {
			defer unsubscribe()
			defer func() { finished <- struct{}{} }()
			worker(ctx, name, r.log, ch, fn)
		}(spec.name, spec.fn, ch, unsubscribe)
	}

	go func() {
		for i := 0; i < remaining; i++ {
			<-finished
		}
		close(r.done)
	}()
}

// Secrets returns the repository's currently resolved access secrets.
func (r *Repo) Secrets() Secrets { return r.secrets }

// DeviceID returns this replica's persisted device identifier.
func (r *Repo) DeviceID() crypto.Hash { return r.deviceID }

// Store returns the underlying transactional store, for packages that
// need to begin their own transactions (vfs, blob, syncproto).
func (r *Repo) Store() *store.Store { return r.store }

// Notify publishes kind to every background worker, re-arming their
// debounce timers.
func (r *Repo) Notify(kind EventKind) { r.events.Publish(kind) }

// Close stops the background workers and closes the underlying store,
// waiting for every worker goroutine to return first.
func (r *Repo) Close() error {
	r.cancel()
	<-r.done
	return r.store.Close()
}

// initializeMetadata persists a freshly created repository's metadata
// surface (§6): repository_id, database_id, device_id, and the resolved
// secrets (writer_id/read_key/write_key), wrapped under a local-password
// key when one was supplied.
func initializeMetadata(s *store.Store, secrets Secrets, params AccessParams, cfg Config) (crypto.Hash, error) {
	wtx, err := s.BeginWrite()
	if err != nil {
		return crypto.Hash{}, err
	}

	if err := SetPublic(wtx, keyRepositoryID, secrets.RepositoryID[:]); err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}
	if _, err := GetOrGenerateDatabaseID(wtx); err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}
	deviceID := crypto.SumHash(nonce[:])
	if err := SetPublic(wtx, keyDeviceID, deviceID[:]); err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}

	localKey, err := resolveLocalKey(wtx, params)
	if err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}

	if err := persistSecrets(wtx, secrets, localKey); err != nil {
		wtx.Rollback()
		return crypto.Hash{}, err
	}

	if cfg.Quota != 0 {
		if err := block.SetQuota(wtx, cfg.Quota); err != nil {
			wtx.Rollback()
			return crypto.Hash{}, err
		}
	}

	if err := wtx.Commit(); err != nil {
		return crypto.Hash{}, err
	}
	return deviceID, nil
}

// resolveLocalKey derives the local-password-wrapping key, if either
// local password was supplied, per §6's "Locally-stored secrets may be
// additionally wrapped by a password-derived key."
func resolveLocalKey(tx *store.WriteTx, params AccessParams) (*crypto.Key, error) {
	password := params.LocalWritePassword
	if len(password) == 0 {
		password = params.LocalReadPassword
	}
	if len(password) == 0 {
		return nil, nil
	}
	salt, err := GetOrGeneratePasswordSalt(tx)
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(password, salt, crypto.DefaultKDFParams)
	return &key, nil
}

// persistSecrets writes writer_id/read_key/write_key to either
// metadata_public (plaintext) or metadata_secret (wrapped under
// localKey), mirroring metadata.rs's set_read_key/set_write_key: a local
// key present moves a field from public to secret storage rather than
// leaving a stale copy in both.
func persistSecrets(tx *store.WriteTx, secrets Secrets, localKey *crypto.Key) error {
	if secrets.Mode >= token.ModeRead {
		if localKey != nil {
			if err := SetSecret(tx, keyReadKey, secrets.ReadKey[:], *localKey); err != nil {
				return err
			}
			if err := SetReadKeyValidator(tx, secrets.ReadKey); err != nil {
				return err
			}
		} else {
			if err := SetPublic(tx, keyReadKey, secrets.ReadKey[:]); err != nil {
				return err
			}
		}
	}
	if secrets.Mode == token.ModeWrite {
		writerID := secrets.SigningKey.WriterID()
		if err := SetPublic(tx, keyWriterID, writerID[:]); err != nil {
			return err
		}
		if localKey != nil {
			if err := SetSecret(tx, keyWriteKey, secrets.SigningKey.Private, *localKey); err != nil {
				return err
			}
		} else {
			if err := SetPublic(tx, keyWriteKey, secrets.SigningKey.Private); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadStoredSecrets reconstructs Secrets from whatever this repository's
// metadata already holds, unwrapping metadata_secret fields with the
// local key implied by params when one is supplied.
func loadStoredSecrets(s *store.Store, params AccessParams) (*Secrets, error) {
	rtx, err := s.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Rollback()

	raw, ok := GetPublic(rtx, keyRepositoryID)
	if !ok {
		return nil, fmt.Errorf("repo: metadata missing %s", keyRepositoryID)
	}
	var repositoryID crypto.Hash
	copy(repositoryID[:], raw)

	secrets := &Secrets{Mode: token.ModeBlind, RepositoryID: repositoryID}

	var localKey *crypto.Key
	password := params.LocalWritePassword
	if len(password) == 0 {
		password = params.LocalReadPassword
	}
	if len(password) > 0 {
		if v, ok := GetPublic(rtx, keyPasswordSalt); ok && len(v) == crypto.SaltSize {
			var salt [crypto.SaltSize]byte
			copy(salt[:], v)
			key := crypto.DeriveKey(password, salt, crypto.DefaultKDFParams)
			localKey = &key
		}
	}

	if v, ok := GetPublic(rtx, keyReadKey); ok {
		secrets.Mode = token.ModeRead
		copy(secrets.ReadKey[:], v)
	} else if localKey != nil {
		if v, ok, err := GetSecret(rtx, keyReadKey, *localKey); err == nil && ok && len(v) == crypto.KeySize {
			var candidate crypto.Key
			copy(candidate[:], v)
			valid, verr := CheckReadKey(rtx, candidate)
			if verr == nil && valid {
				secrets.Mode = token.ModeRead
				secrets.ReadKey = candidate
			}
		}
	}

	if v, ok := GetPublic(rtx, keyWriteKey); ok {
		secrets.Mode = token.ModeWrite
		pub := derivePublicFromPrivate(v)
		secrets.SigningKey = crypto.SigningKey{Public: pub, Private: v}
	} else if localKey != nil {
		if v, ok, err := GetSecret(rtx, keyWriteKey, *localKey); err == nil && ok && len(v) == 64 {
			pub := derivePublicFromPrivate(v)
			secrets.Mode = token.ModeWrite
			secrets.SigningKey = crypto.SigningKey{Public: pub, Private: v}
		}
	}

	return secrets, nil
}
