package fingerprint

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// snapshotVersion is bumped whenever the snapshot layout changes.
const snapshotVersion = 1

type snapshot struct {
	Version      int
	AccessPoints []AccessPoint
	Fingerprints []Fingerprint
	Meta         Metadata
}

// Save writes db as a gzip-compressed gob snapshot.
func Save(w io.Writer, db *Database) error {
	snap := snapshot{
		Version:      snapshotVersion,
		AccessPoints: db.AccessPoints(),
		Fingerprints: db.Fingerprints(),
		Meta:         db.Metadata(),
	}
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		gz.Close()
		return fmt.Errorf("encode fingerprint snapshot: %w", err)
	}
	return gz.Close()
}

// Load reads a snapshot written by Save.
func Load(r io.Reader) (*Database, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var snap snapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported fingerprint snapshot version %d", snap.Version)
	}
	db, err := NewDatabase(snap.AccessPoints)
	if err != nil {
		return nil, err
	}
	for _, fp := range snap.Fingerprints {
		if err := db.Add(fp.Position, fp.RSSI); err != nil {
			return nil, err
		}
	}
	db.SetMetadata(snap.Meta)
	return db, nil
}

// Marshal is Save into memory.
func Marshal(db *Database) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, db); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Load from memory.
func Unmarshal(blob []byte) (*Database, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty fingerprint blob")
	}
	return Load(bytes.NewReader(blob))
}

// SaveFile writes the snapshot to path, replacing it atomically.
func SaveFile(path string, db *Database) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fingerprints-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Save(tmp, db); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
