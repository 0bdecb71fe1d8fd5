package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheusHen/proxtrace/proxtrace/crypto"
)

var ErrNoSnapshot = errors.New("persist: no snapshot stored")

// additionalData binds sealed snapshots to this format.
var additionalData = []byte("proxtrace snapshot v1")

// Options tunes a FileStore.
type Options struct {
	DataShards   int
	ParityShards int
}

// DefaultOptions returns the 8 data / 2 parity shard layout.
func DefaultOptions() Options {
	return Options{DataShards: DefaultDataShards, ParityShards: DefaultParityShards}
}

// FileStore keeps one sealed snapshot in a single file.
type FileStore struct {
	mu   sync.Mutex
	path string
	aead *crypto.AEAD
	opts Options

	repaired int
}

// Open returns a store for path sealed under key. The file need not exist yet.
func Open(path string, key []byte, opts Options) (*FileStore, error) {
	if opts.DataShards <= 0 || opts.ParityShards <= 0 || opts.DataShards+opts.ParityShards > 255 {
		return nil, ErrInvalidShards
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, aead: aead, opts: opts}, nil
}

// Path returns the snapshot file path.
func (fs *FileStore) Path() string { return fs.path }

// Repaired returns how many shards the last Load had to rebuild.
func (fs *FileStore) Repaired() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.repaired
}

// Load reads and verifies the stored snapshot.
func (fs *FileStore) Load() (Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.loadLocked()
}

// Save replaces the stored snapshot.
func (fs *FileStore) Save(s Snapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.saveLocked(s)
}

// Update loads the snapshot, applies fn and flushes the result before
// releasing the store. A missing file starts from the zero Snapshot.
// Nothing is written when fn fails.
func (fs *FileStore) Update(fn func(*Snapshot) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	s, err := fs.loadLocked()
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return err
	}
	if err := fn(&s); err != nil {
		return err
	}
	return fs.saveLocked(s)
}

func (fs *FileStore) loadLocked() (Snapshot, error) {
	blob, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, err
	}
	sealed, repaired, err := DecodeShards(blob)
	if err != nil {
		return Snapshot{}, err
	}
	fs.repaired = repaired

	compressed, err := fs.aead.Open(sealed, additionalData)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	raw, err := Decompress(compressed)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := s.UnmarshalBinary(raw); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (fs *FileStore) saveLocked(s Snapshot) error {
	raw, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	compressed, err := Compress(raw)
	clear(raw)
	if err != nil {
		return err
	}
	sealed, err := fs.aead.Seal(compressed, additionalData)
	if err != nil {
		return err
	}
	blob, err := EncodeShards(sealed, fs.opts.DataShards, fs.opts.ParityShards)
	if err != nil {
		return err
	}
	return writeAtomic(fs.path, blob)
}

// writeAtomic writes data to a temporary sibling, syncs it and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
