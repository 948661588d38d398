// Package checksum compares downloaded artifacts with what a tracking record
// says about them.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	sha256 "github.com/minio/sha256-simd"
	"github.com/spf13/afero"
)

var log = logging.Logger("folofix/checksum")

type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", string(a))
	}
}

// SidecarURL is where the repository serves the digest of contentURL.
func (a Algorithm) SidecarURL(contentURL string) string {
	return contentURL + "." + string(a)
}

// SizeOutcome is the result of a size check.
type SizeOutcome struct {
	Success    bool   `json:"success"`
	Record     *int64 `json:"record,omitempty"`
	Calculated *int64 `json:"calculated,omitempty"`
	Storage    *int64 `json:"storage,omitempty"`
	// Fatal means the stored copy itself disagrees with the record.
	Fatal bool `json:"fatal,omitempty"`
}

// Err is a *SizeMismatch for a failed check and nil otherwise.
func (o SizeOutcome) Err() error {
	if o.Success {
		return nil
	}
	m := &SizeMismatch{Fatal: o.Fatal, Storage: o.Storage}
	if o.Record != nil {
		m.Record = *o.Record
	}
	if o.Calculated != nil {
		m.Calculated = *o.Calculated
	}
	return m
}

// DigestOutcome is the result of a checksum check.
type DigestOutcome struct {
	Success    bool   `json:"success"`
	Record     string `json:"record,omitempty"`
	Calculated string `json:"calculated,omitempty"`
	// File is the content of the remote sidecar, when one was served. It is
	// informational and never decides Success.
	File string `json:"file,omitempty"`
}

func (o DigestOutcome) Err(algo Algorithm) error {
	if o.Success {
		return nil
	}
	return &ChecksumMismatch{Algorithm: algo, Record: o.Record, Calculated: o.Calculated}
}

type SizeMismatch struct {
	Record     int64
	Calculated int64
	Storage    *int64
	Fatal      bool
}

func (e *SizeMismatch) Error() string {
	if e.Fatal && e.Storage != nil {
		return fmt.Sprintf("stored size %d does not match recorded size %d", *e.Storage, e.Record)
	}
	return fmt.Sprintf("downloaded size %d does not match recorded size %d", e.Calculated, e.Record)
}

type ChecksumMismatch struct {
	Algorithm  Algorithm
	Record     string
	Calculated string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("%s %s does not match recorded %s", e.Algorithm, e.Calculated, e.Record)
}

// VerifySize checks a download against the recorded size. When the
// authoritative storage size is known and disagrees with the record the
// failure is fatal, whatever the download looks like.
func VerifySize(expected, local int64, storage *int64) SizeOutcome {
	if storage != nil && *storage != expected {
		return SizeOutcome{
			Record:     &expected,
			Calculated: &local,
			Storage:    storage,
			Fatal:      true,
		}
	}
	if local != expected {
		return SizeOutcome{Record: &expected, Calculated: &local, Storage: storage}
	}
	return SizeOutcome{Success: true}
}

type Verifier struct {
	fs     afero.Fs
	client *http.Client
}

// NewVerifier returns a verifier reading local files from fsys. A nil client
// disables sidecar lookups.
func NewVerifier(fsys afero.Fs, client *http.Client) *Verifier {
	return &Verifier{fs: fsys, client: client}
}

// Digest hashes the file at path.
func (v *Verifier) Digest(algo Algorithm, path string) (string, error) {
	h, err := algo.New()
	if err != nil {
		return "", err
	}
	f, err := v.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest hashes the file at path and compares it with expected. If
// sidecarURL is set the remote digest is fetched and recorded alongside.
func (v *Verifier) VerifyDigest(ctx context.Context, algo Algorithm, path, expected, sidecarURL string) (DigestOutcome, error) {
	var remote string
	if sidecarURL != "" && v.client != nil {
		remote = v.sidecar(ctx, sidecarURL)
	}

	calculated, err := v.Digest(algo, path)
	if err != nil {
		return DigestOutcome{}, err
	}

	if strings.EqualFold(strings.TrimSpace(expected), calculated) {
		return DigestOutcome{Success: true}, nil
	}
	return DigestOutcome{
		Record:     expected,
		Calculated: calculated,
		File:       remote,
	}, nil
}

// sidecar returns the digest served at u, or "" if none could be read.
func (v *Verifier) sidecar(ctx context.Context, u string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		log.Debugw("creating sidecar request", "url", u, "error", err)
		return ""
	}
	res, err := v.client.Do(req)
	if err != nil {
		log.Debugw("fetching sidecar", "url", u, "error", err)
		return ""
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(res.Body, 1024))
	if err != nil {
		return ""
	}
	// sidecars may be "<digest>  <filename>"
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
