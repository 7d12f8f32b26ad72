package domain

import (
	"strings"
	"time"
)

// MetadataPrefix marks reserved field names that never take part in hashing.
const MetadataPrefix = "_"

// Field is one named value of a record.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RecordMeta carries extraction context kept apart from content.
type RecordMeta struct {
	PageNumber     int       `json:"page_number,omitempty"`
	ScrollPosition int       `json:"scroll_position,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	LowConfidence  []string  `json:"low_confidence,omitempty"`
}

// Record is one extracted item. Fields keep extraction order for display;
// hashing ignores order.
type Record struct {
	Fields []Field
	Meta   RecordMeta
}

// NewRecord builds a record from alternating name/value pairs.
func NewRecord(pairs ...string) Record {
	var r Record
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set replaces the value of an existing field or appends a new one.
func (r *Record) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Get returns the value of a field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		out[f.Name] = f.Value
	}
	return out
}

// Empty reports whether every content field is blank.
func (r Record) Empty() bool {
	for _, f := range r.Fields {
		if strings.HasPrefix(f.Name, MetadataPrefix) {
			continue
		}
		if strings.TrimSpace(f.Value) != "" {
			return false
		}
	}
	return true
}

// FlagLowConfidence records a field whose OCR confidence was under the floor.
func (r *Record) FlagLowConfidence(name string) {
	for _, n := range r.Meta.LowConfidence {
		if n == name {
			return
		}
	}
	r.Meta.LowConfidence = append(r.Meta.LowConfidence, name)
}

// ContentHash is a lowercase hex MD5 digest of a record's semantic fields.
type ContentHash string

// StoredRecord is a persisted record.
type StoredRecord struct {
	ID             int64       `json:"id" db:"id"`
	JobID          int64       `json:"job_id" db:"job_id"`
	Hash           ContentHash `json:"hash" db:"hash"`
	Fields         []Field     `json:"data" db:"-"`
	PageNumber     int         `json:"page_number" db:"page_number"`
	ScrollPosition int         `json:"scroll_position" db:"scroll_position"`
	ExtractedAt    time.Time   `json:"extracted_at" db:"extracted_at"`
	Delivered      bool        `json:"sent_to_telegram" db:"sent_to_telegram"`
	MessageID      string      `json:"telegram_message_id,omitempty" db:"telegram_message_id"`
	DeliveredAt    *time.Time  `json:"telegram_sent_at,omitempty" db:"telegram_sent_at"`
}
