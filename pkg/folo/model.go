package folo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Store types as they appear in the second segment of a store key.
const (
	StoreTypeHosted = "hosted"
	StoreTypeRemote = "remote"
	StoreTypeGroup  = "group"
)

// DefaultPackageType is assumed for legacy two-part store keys.
const DefaultPackageType = "maven"

// StoreKey identifies a repository store on the service, serialized as
// `packageType:storeType:storeName`.
type StoreKey struct {
	PackageType string
	StoreType   string
	Name        string
}

// ParseStoreKey parses a store key. Legacy keys of the form
// `storeType:storeName` get [DefaultPackageType].
func ParseStoreKey(s string) (StoreKey, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3:
		return StoreKey{PackageType: parts[0], StoreType: parts[1], Name: parts[2]}, nil
	case 2:
		return StoreKey{PackageType: DefaultPackageType, StoreType: parts[0], Name: parts[1]}, nil
	default:
		return StoreKey{}, fmt.Errorf("invalid store key %q", s)
	}
}

func (k StoreKey) String() string {
	return k.PackageType + ":" + k.StoreType + ":" + k.Name
}

func (k StoreKey) IsZero() bool {
	return k == StoreKey{}
}

func (k StoreKey) MarshalJSON() ([]byte, error) {
	if k.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(k.String())
}

func (k *StoreKey) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding store key: %w", err)
	}
	if s == nil || *s == "" {
		*k = StoreKey{}
		return nil
	}
	parsed, err := ParseStoreKey(*s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ArtifactEntry is a single upload or download recorded in a tracking report.
type ArtifactEntry struct {
	StoreKey      StoreKey `json:"storeKey"`
	AccessChannel string   `json:"accessChannel,omitempty"`
	Path          string   `json:"path"`
	OriginURL     string   `json:"originUrl,omitempty"`
	LocalURL      string   `json:"localUrl,omitempty"`
	Size          int64    `json:"size"`
	MD5           string   `json:"md5"`
	SHA1          string   `json:"sha1"`
	SHA256        string   `json:"sha256,omitempty"`
}

// RelativePath is the entry path with leading separators removed.
func (e ArtifactEntry) RelativePath() string {
	return strings.TrimLeft(e.Path, "/")
}

type TrackingKey struct {
	ID string `json:"id"`
}

// TrackingReport is the record of everything a tracked build uploaded and
// downloaded.
type TrackingReport struct {
	Key       TrackingKey     `json:"key"`
	Uploads   []ArtifactEntry `json:"uploads"`
	Downloads []ArtifactEntry `json:"downloads"`

	// Raw holds the bytes received from the service.
	Raw json.RawMessage `json:"-"`
}

func (r *TrackingReport) TrackingID() string {
	return r.Key.ID
}

// DecodeReport parses a tracking report and keeps the raw bytes around.
// fallbackID is used when the payload carries no key.
func DecodeReport(b []byte, fallbackID string) (*TrackingReport, error) {
	var report TrackingReport
	if err := json.Unmarshal(b, &report); err != nil {
		return nil, fmt.Errorf("decoding tracking report: %w", err)
	}
	if report.Key.ID == "" {
		report.Key.ID = fallbackID
	}
	report.Raw = append(json.RawMessage(nil), b...)
	return &report, nil
}
