package snapshot

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Store persists encoded snapshots under a directory with rotating
// generational backups. save.ifz is the newest; save.1.ifz the previous
// generation, and so on up to the configured count.
type Store struct {
	dir     string
	backups int
	logger  *log.Logger

	migrations map[int]Migration
}

func NewStore(dir string, backups int, logger *log.Logger) *Store {
	if backups < 0 {
		backups = 0
	}
	return &Store{dir: dir, backups: backups, logger: logger, migrations: map[int]Migration{}}
}

// RegisterMigration installs the upgrade hook for payloads at version v.
func (s *Store) RegisterMigration(v int, m Migration) { s.migrations[v] = m }

func (s *Store) path(gen int) string {
	if gen == 0 {
		return filepath.Join(s.dir, "save.ifz")
	}
	return filepath.Join(s.dir, fmt.Sprintf("save.%d.ifz", gen))
}

// Save encodes, rotates the backup chain, then writes the new snapshot via
// a temp file rename so a crash mid-write cannot clobber the previous save.
func (s *Store) Save(st StateV1, savedAtMs int64) error {
	raw, err := Encode(st, savedAtMs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, "save.tmp")
	if err := writeZstd(tmp, raw); err != nil {
		return err
	}

	// Oldest generation falls off the end.
	for gen := s.backups; gen >= 1; gen-- {
		src := s.path(gen - 1)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		_ = os.Rename(src, s.path(gen))
	}
	return os.Rename(tmp, s.path(0))
}

// Load returns the newest snapshot that passes validation, falling back
// through the backup generations. Only when every generation fails does it
// report the save unrecoverable.
func (s *Store) Load() (StateV1, Header, error) {
	var lastErr error
	for gen := 0; gen <= s.backups; gen++ {
		p := s.path(gen)
		raw, err := readZstd(p)
		if err != nil {
			if !os.IsNotExist(err) {
				lastErr = err
			}
			continue
		}
		st, hdr, err := Decode(raw, s.migrations)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("snapshot: generation %d invalid: %v; trying next", gen, err)
			}
			lastErr = err
			continue
		}
		if gen > 0 && s.logger != nil {
			s.logger.Printf("snapshot: recovered from backup generation %d", gen)
		}
		return st, hdr, nil
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return StateV1{}, Header{}, fmt.Errorf("%w: %v", ErrUnrecoverable, lastErr)
}

// Exists reports whether any save generation is present on disk.
func (s *Store) Exists() bool {
	for gen := 0; gen <= s.backups; gen++ {
		if _, err := os.Stat(s.path(gen)); err == nil {
			return true
		}
	}
	return false
}

func writeZstd(path string, raw []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readZstd(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
