// Package store implements the encrypted, table-oriented document store the
// ledger is built on.
//
// The entire store content is one Snapshot; every mutation serializes it,
// encrypts it with AES-GCM under a key derived from the user secret, and
// atomically overwrites the backing file. The store is owned by a single
// logical writer: one mutex guards the session state and all table
// operations, and no second process may open the same file.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/cryptox"
	"github.com/avoronin/potledger/internal/filex"
	"github.com/avoronin/potledger/internal/logging"
)

// DefaultAutoLockTimeout is how long the session may stay idle before the
// next operation auto-locks the store instead of running.
const DefaultAutoLockTimeout = 3 * time.Minute

// Options configures a Store handle.
type Options struct {
	// Path is the backing file. The KDF sidecar lives at Path + ".params".
	Path string

	// AutoLockTimeout overrides DefaultAutoLockTimeout; zero keeps the default.
	AutoLockTimeout time.Duration

	// KDF overrides the argon2id cost parameters for newly created stores.
	// Zero value means cryptox.DefaultKDFParams. Existing stores always use
	// the parameters recorded in their sidecar file.
	KDF cryptox.KDFParams

	Logger logging.Logger
}

// Store is an encrypted document store with an unlock/lock session
// lifecycle. All methods are safe for concurrent use, but mutations are
// serialized internally; see the package comment.
type Store struct {
	path       string
	paramsPath string
	autoLock   time.Duration
	kdf        cryptox.KDFParams
	log        logging.Logger

	mu           sync.Mutex
	key          []byte
	unlocked     bool
	lastActivity time.Time
	data         Snapshot
	nextID       map[string]int64
}

func New(opts Options) *Store {
	s := &Store{
		path:       opts.Path,
		paramsPath: opts.Path + ".params",
		autoLock:   opts.AutoLockTimeout,
		kdf:        opts.KDF,
		log:        opts.Logger,
	}
	if s.autoLock == 0 {
		s.autoLock = DefaultAutoLockTimeout
	}
	if s.kdf == (cryptox.KDFParams{}) {
		s.kdf = cryptox.DefaultKDFParams()
	}
	if s.log == nil {
		s.log = logging.NewNop()
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ParamsPath returns the sidecar salt/parameters file path.
func (s *Store) ParamsPath() string { return s.paramsPath }

// Init creates a fresh store: generates a random salt, writes the sidecar
// file, seeds the system sentinel table and persists the first snapshot.
// The store is left unlocked. Init fails if the store already exists.
func (s *Store) Init(secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.paramsPath); err == nil {
		return fmt.Errorf("store already initialized at %s", s.path)
	}
	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("store file already exists at %s", s.path)
	}

	salt := cryptox.GenerateSalt()
	if err := s.writeParams(salt); err != nil {
		return err
	}

	s.key = cryptox.DeriveKey(secret, salt, s.kdf)
	s.seedSystem()

	if err := s.persist(); err != nil {
		s.resetLocked()
		return err
	}

	s.unlocked = true
	s.lastActivity = time.Now()
	s.log.Info(context.Background(), "store initialized", "path", s.path)
	return nil
}

// Unlock derives the key from secret and decrypts the backing file.
//
// Errors: common.ErrNotInitialized if the store was never created,
// common.ErrWrongSecret if decryption fails authentication, and
// common.ErrCorrupt if the decrypted content is not a valid snapshot or a
// non-empty snapshot is missing the system sentinel table.
func (s *Store) Unlock(secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, kdf, err := s.readParams()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.ErrNotInitialized
		}
		return fmt.Errorf("%w: %v", common.ErrCorrupt, err)
	}

	key := cryptox.DeriveKey(secret, salt, kdf)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.ErrNotInitialized
		}
		return fmt.Errorf("read store file: %w", err)
	}

	data := Snapshot{}
	if len(raw) > 0 {
		blob, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCorrupt, err)
		}
		plaintext, err := cryptox.Open(blob, key)
		if err != nil {
			return common.ErrWrongSecret
		}
		if err := json.Unmarshal(plaintext, &data); err != nil {
			return fmt.Errorf("%w: %v", common.ErrCorrupt, err)
		}
		if _, ok := data[SystemTable]; !ok {
			return fmt.Errorf("%w: missing sentinel table", common.ErrCorrupt)
		}
	}

	s.key = key
	s.data = data
	s.nextID = nextIDsFrom(data)

	// an empty backing file is a fresh store; seed and persist the sentinel
	// right away so the file never holds a non-empty snapshot without it
	if len(raw) == 0 {
		s.seedSystem()
		if err := s.persist(); err != nil {
			s.resetLocked()
			return err
		}
	}

	s.unlocked = true
	s.lastActivity = time.Now()
	s.log.Info(context.Background(), "store unlocked", "path", s.path, "tables", len(s.data))
	return nil
}

// seedSystem writes the sentinel record every store starts with. Caller
// holds s.mu.
func (s *Store) seedSystem() {
	s.data = Snapshot{
		SystemTable: Table{
			1: Record{
				"version":     float64(1),
				"initialized": true,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	s.nextID = map[string]int64{SystemTable: 2}
}

// Lock discards the key and all decrypted state. Safe to call repeatedly.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.log.Info(context.Background(), "store locked", "path", s.path)
}

// Unlocked reports whether the session currently holds a key. It does not
// count as activity for the idle timeout.
func (s *Store) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

// resetLocked clears session state. Caller holds s.mu.
func (s *Store) resetLocked() {
	common.WipeByteArray(s.key)
	s.key = nil
	s.data = nil
	s.nextID = nil
	s.unlocked = false
}

// ensureUnlocked enforces the session lifecycle: locked sessions fail with
// common.ErrLocked, idle sessions past the timeout are locked first, and
// every successful call counts as activity. Caller holds s.mu.
func (s *Store) ensureUnlocked() error {
	if !s.unlocked {
		return common.ErrLocked
	}
	if time.Since(s.lastActivity) > s.autoLock {
		s.resetLocked()
		s.log.Warn(context.Background(), "store auto-locked after inactivity", "path", s.path)
		return fmt.Errorf("auto-locked after inactivity: %w", common.ErrLocked)
	}
	s.lastActivity = time.Now()
	return nil
}

// persist serializes, encrypts, base64-encodes and atomically overwrites
// the backing file with the full snapshot. Caller holds s.mu.
func (s *Store) persist() error {
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	blob, err := cryptox.Seal(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(blob)
	if err := filex.WriteFileAtomic(s.path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// mutate runs fn against the live snapshot and persists the result. If fn
// or persistence fails, the in-memory snapshot is rolled back so memory and
// disk never diverge.
func (s *Store) mutate(fn func(data Snapshot) error) error {
	backup := cloneSnapshot(s.data)
	if err := fn(s.data); err != nil {
		s.data = backup
		return err
	}
	if err := s.persist(); err != nil {
		s.data = backup
		return err
	}
	return nil
}

func nextIDsFrom(data Snapshot) map[string]int64 {
	next := make(map[string]int64, len(data))
	for name, tbl := range data {
		var max int64
		for id := range tbl {
			if id > max {
				max = id
			}
		}
		next[name] = max + 1
	}
	return next
}

// Snapshot returns a deep copy of the current store content.
func (s *Store) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	return cloneSnapshot(s.data), nil
}

// ExportRaw returns the encrypted backing file as stored on disk, for the
// external backup collaborator. The ciphertext needs no unlocked session.
func (s *Store) ExportRaw() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrNotInitialized
		}
		return nil, err
	}
	return b, nil
}

// ImportRaw atomically replaces the backing file with b and locks the
// session, forcing the next caller to re-unlock against the new content.
func (s *Store) ImportRaw(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := filex.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return err
	}
	s.resetLocked()
	return nil
}
