// Package archive keeps an audit copy of every captured payload in S3.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// CaptureObject is the archived form of one capture.
type CaptureObject struct {
	Version    string          `json:"version"`
	PatientID  string          `json:"patient_id"`
	LocationID string          `json:"location_id"`
	CapturedAt time.Time       `json:"captured_at"`
	ArchivedAt time.Time       `json:"archived_at"`
	RawData    json.RawMessage `json:"raw_data"`
}

// ManifestEntry is one line of the monthly manifest. The phone is hashed so
// the manifest can be shared without the payloads.
type ManifestEntry struct {
	PatientID  string `json:"patient_id"`
	LocationID string `json:"location_id"`
	S3Key      string `json:"s3_key"`
	PhoneHash  string `json:"phone_hash,omitempty"`
	CapturedAt string `json:"captured_at"`
}

// Store archives raw capture payloads to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger.Component("archive"), now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// CaptureKey is the object key for a capture.
func CaptureKey(rec patient.Record) string {
	at := rec.CapturedAt.UTC()
	location := rec.LocationID
	if location == "" {
		location = "unknown"
	}
	return fmt.Sprintf("captures/v1/by-date/%d/%02d/%02d/%s/%s-%d.json",
		at.Year(), at.Month(), at.Day(),
		url.PathEscape(location), url.PathEscape(rec.PatientID), at.UnixNano())
}

// ArchiveCapture writes rec's raw payload to S3 and appends it to the manifest.
func (s *Store) ArchiveCapture(ctx context.Context, rec patient.Record) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	raw := rec.RawData
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(CaptureObject{
		Version:    "1.0",
		PatientID:  rec.PatientID,
		LocationID: rec.LocationID,
		CapturedAt: rec.CapturedAt,
		ArchivedAt: s.now().UTC(),
		RawData:    raw,
	})
	if err != nil {
		return "", fmt.Errorf("archive: marshal capture: %w", err)
	}

	key := CaptureKey(rec)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived capture to S3", "patient_id", rec.PatientID, "s3_key", key)

	entry := ManifestEntry{
		PatientID:  rec.PatientID,
		LocationID: rec.LocationID,
		S3Key:      key,
		PhoneHash:  HashPhone(rec.MobilePhone),
		CapturedAt: rec.CapturedAt.UTC().Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// the capture itself is already stored
		s.logger.Warn("failed to append manifest", "error", err, "patient_id", rec.PatientID)
	}
	return key, nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now().UTC()
	manifestKey := fmt.Sprintf("captures/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}

	return nil
}

// HashPhone returns the hex-encoded SHA-256 hash of a normalized phone number.
func HashPhone(phone string) string {
	phone = patient.NormalizePhone(phone)
	if phone == "" {
		return ""
	}
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}
