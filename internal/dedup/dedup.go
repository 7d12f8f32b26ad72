// Package dedup canonicalizes records into content hashes and classifies
// them against a job's stored history.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const (
	pairSeparator = "|"
	emptySentinel = "empty"
)

// Hash returns the content hash of a record. Metadata fields and blank
// values are dropped, the rest are sorted by name and joined as name:value.
func Hash(record domain.Record) domain.ContentHash {
	pairs := make([]domain.Field, 0, len(record.Fields))
	for _, f := range record.Fields {
		if strings.HasPrefix(f.Name, domain.MetadataPrefix) {
			continue
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			continue
		}
		pairs = append(pairs, domain.Field{Name: f.Name, Value: value})
	}

	if len(pairs) == 0 {
		return digest(emptySentinel)
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Name + ":" + p.Value
	}
	return digest(strings.Join(parts, pairSeparator))
}

func digest(s string) domain.ContentHash {
	sum := md5.Sum([]byte(s))
	return domain.ContentHash(hex.EncodeToString(sum[:]))
}

// Classification is the outcome of Classify.
type Classification struct {
	IsNew bool
	Hash  domain.ContentHash
}

// Deduplicator classifies records per job. It holds no record state.
type Deduplicator struct {
	records ports.RecordRepository
}

// New wires the deduplicator to a record repository.
func New(records ports.RecordRepository) *Deduplicator {
	return &Deduplicator{records: records}
}

// IsDuplicate reports whether hash is already stored for the job.
func (d *Deduplicator) IsDuplicate(ctx context.Context, jobID int64, hash domain.ContentHash) (bool, error) {
	dup, err := d.records.IsDuplicate(ctx, jobID, hash)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return dup, nil
}

// Classify hashes the record and checks it against the job history.
// Nothing is written.
func (d *Deduplicator) Classify(ctx context.Context, jobID int64, record domain.Record) (Classification, error) {
	hash := Hash(record)
	dup, err := d.IsDuplicate(ctx, jobID, hash)
	if err != nil {
		return Classification{Hash: hash}, err
	}
	return Classification{IsNew: !dup, Hash: hash}, nil
}

// ErrNotNew is returned by StoreAndMark for a duplicate classification.
var ErrNotNew = errors.New("record is not new")

// StoreAndMark persists a record classified as new. A concurrent insert of
// the same content surfaces as ports.ErrConflict.
func (d *Deduplicator) StoreAndMark(ctx context.Context, jobID int64, c Classification, record domain.Record) (int64, error) {
	if !c.IsNew {
		return 0, ErrNotNew
	}
	id, err := d.records.StoreRecord(ctx, jobID, c.Hash, record)
	if err != nil {
		return 0, fmt.Errorf("store record: %w", err)
	}
	return id, nil
}
