// Package snapshot is the serializable shape of the economy state plus the
// integrity machinery around it: a cheap corruption checksum, generational
// backups and version migrations.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const CurrentVersion = 1

// StateV1 is the persisted economy state. Slices are kept sorted by id so
// the serialized payload is canonical: byte-identical state produces
// byte-identical payloads and therefore a stable checksum.
type StateV1 struct {
	Seed     int64  `json:"seed"`
	Era      string `json:"era,omitempty"`
	Prestige int    `json:"prestige,omitempty"`

	Resources []ResourceV1 `json:"resources"`
	Buildings []BuildingV1 `json:"buildings"`
	Upgrades  []string     `json:"upgrades,omitempty"`

	// In-flight sub-threshold production. Persisting these closes the gap
	// where up to one flush threshold per (building,resource) would vanish
	// on save/reload.
	Accumulators []AccumulatorV1 `json:"accumulators,omitempty"`

	Stats StatsV1 `json:"stats"`
}

type ResourceV1 struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Lifetime float64 `json:"lifetime"`
	Unlocked bool    `json:"unlocked,omitempty"`
}

type BuildingV1 struct {
	ID       string `json:"id"`
	Count    int    `json:"count"`
	Unlocked bool   `json:"unlocked,omitempty"`
}

type AccumulatorV1 struct {
	Building string  `json:"building"`
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

type StatsV1 struct {
	TotalTicks    uint64 `json:"total_ticks"`
	PlaytimeMs    int64  `json:"playtime_ms"`
	Purchases     int    `json:"purchases"`
	PrestigeCount int    `json:"prestige_count"`
}

type Header struct {
	Version  int    `json:"version"`
	SavedAt  int64  `json:"saved_at_ms"`
	Checksum string `json:"checksum"`
}

var (
	ErrChecksum      = errors.New("snapshot checksum mismatch")
	ErrUnrecoverable = errors.New("save unrecoverable: all backups failed validation")
)

// Checksum is a corruption detector over the serialized payload: payload
// length plus a rolling byte sum. It is deliberately not a cryptographic
// digest and guarantees nothing about authenticity; substituting a keyed
// hash is the upgrade path if tamper resistance is ever needed.
func Checksum(payload []byte) string {
	var sum uint64
	for i, b := range payload {
		sum += uint64(b) * uint64(i%251+1)
	}
	return fmt.Sprintf("%x:%x", len(payload), sum)
}

// Encode serializes state into the on-disk envelope: a JSON header line
// carrying version and checksum, then the canonical JSON payload.
func Encode(st StateV1, savedAtMs int64) ([]byte, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	hdr, err := json.Marshal(Header{
		Version:  CurrentVersion,
		SavedAt:  savedAtMs,
		Checksum: Checksum(payload),
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(hdr) + 1 + len(payload))
	buf.Write(hdr)
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Migration upgrades a version-v payload to version v+1. Versions with no
// registered migration pass through unchanged (documented no-op).
type Migration func(payload []byte) ([]byte, error)

// Decode validates the envelope checksum, runs any registered migrations
// from the stored version up to CurrentVersion, and unmarshals the state.
func Decode(raw []byte, migrations map[int]Migration) (StateV1, Header, error) {
	var st StateV1
	var hdr Header

	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return st, hdr, fmt.Errorf("snapshot: missing header line")
	}
	if err := json.Unmarshal(raw[:nl], &hdr); err != nil {
		return st, hdr, fmt.Errorf("snapshot header: %w", err)
	}
	payload := raw[nl+1:]
	if Checksum(payload) != hdr.Checksum {
		return st, hdr, ErrChecksum
	}

	for v := hdr.Version; v < CurrentVersion; v++ {
		m := migrations[v]
		if m == nil {
			continue
		}
		var err error
		payload, err = m(payload)
		if err != nil {
			return st, hdr, fmt.Errorf("snapshot migration v%d: %w", v, err)
		}
	}

	if err := json.Unmarshal(payload, &st); err != nil {
		return st, hdr, fmt.Errorf("snapshot payload: %w", err)
	}
	return st, hdr, nil
}
