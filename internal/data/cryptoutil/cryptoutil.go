// Package cryptoutil pseudonymizes patient identifiers for anonymized transfers and imports.
package cryptoutil

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Versioned prefix to allow future key/algorithm rotations without data migrations.
const pseudonymPrefixV1 = "v1:"

// MinKeyLength is the shortest accepted pseudonymization key.
const MinKeyLength = 16

// DefaultSensitiveFields are the record_data keys replaced when anonymizing.
//
//nolint:gochecknoglobals // read-only default list
var DefaultSensitiveFields = []string{
	"name", "patient_name", "first_name", "last_name",
	"ssn", "address", "phone", "email", "date_of_birth",
}

// Pseudonymizer replaces identifying values with stable, non-reversible tokens.
type Pseudonymizer interface {
	Pseudonymize(value string) string
	ScrubRecord(raw json.RawMessage) (json.RawMessage, error)
}

// HMACPseudonymizer implements Pseudonymizer with keyed HMAC-SHA256. The same key always
// maps one value to the same token, so anonymized records of a patient stay linkable.
type HMACPseudonymizer struct {
	key    []byte
	fields map[string]struct{}
}

// NewHMACPseudonymizer constructs a pseudonymizer. Fields defaults to DefaultSensitiveFields.
func NewHMACPseudonymizer(key []byte, fields []string) (*HMACPseudonymizer, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("pseudonymization key must be at least %d bytes, got %d", MinKeyLength, len(key))
	}
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			set[f] = struct{}{}
		}
	}
	return &HMACPseudonymizer{key: append([]byte(nil), key...), fields: set}, nil
}

// Pseudonymize returns the versioned token for value. Already pseudonymized values are
// returned unchanged.
func (p *HMACPseudonymizer) Pseudonymize(value string) string {
	if strings.HasPrefix(value, pseudonymPrefixV1) {
		return value
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(value))
	return pseudonymPrefixV1 + hex.EncodeToString(mac.Sum(nil))
}

// ScrubRecord pseudonymizes the sensitive top-level keys of a JSON object. Non-object
// payloads are rejected since their identifying parts cannot be located.
func (p *HMACPseudonymizer) ScrubRecord(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New("record_data must be a JSON object to be anonymized")
	}
	for k, v := range doc {
		if _, ok := p.fields[strings.ToLower(k)]; !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		token, err := json.Marshal(p.Pseudonymize(scalarString(v)))
		if err != nil {
			return nil, fmt.Errorf("encode pseudonym for %s: %w", k, err)
		}
		doc[k] = token
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode anonymized record: %w", err)
	}
	return out, nil
}

// scalarString unquotes JSON strings and keeps every other literal verbatim.
func scalarString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}
