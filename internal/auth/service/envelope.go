package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

const (
	paddingField   = "_padding"
	checksumField  = "_checksum"
	checksumKeyLen = 32

	// DefaultBucketSize is larger than any login or session body.
	DefaultBucketSize = 1024
)

// placeholder stands in for the checksum while the body is measured; the
// hex HMAC-SHA256 always has this length.
var placeholder = strings.Repeat("0", sha256.Size*2)

// Envelope wraps response payloads with padding and an HMAC checksum. Every
// body is first filled up to a multiple of the bucket size, then random
// jitter is added, so a success and a failure share one size range.
type Envelope struct {
	mu         sync.RWMutex
	key        []byte
	previous   []byte
	maxPadding int
	bucket     int
}

type EnvelopeOption func(*Envelope)

// WithBucketSize sets the size class bodies are filled to. Zero disables
// the fill and leaves only the jitter.
func WithBucketSize(n int) EnvelopeOption {
	return func(e *Envelope) {
		if n >= 0 {
			e.bucket = n
		}
	}
}

func NewEnvelope(maxPadding int, opts ...EnvelopeOption) (*Envelope, error) {
	if maxPadding < 0 {
		maxPadding = 0
	}
	e := &Envelope{maxPadding: maxPadding, bucket: DefaultBucketSize}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Rotate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Rotate replaces the checksum key. The previous key still verifies until
// the next rotation.
func (e *Envelope) Rotate() error {
	key := make([]byte, checksumKeyLen)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("rotate checksum key: %w", err)
	}
	e.mu.Lock()
	e.previous = e.key
	e.key = key
	e.mu.Unlock()
	return nil
}

// Seal returns payload as a JSON object with the padding and checksum fields
// added. payload must encode to a JSON object.
func (e *Envelope) Seal(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("seal: payload is not an object: %w", err)
	}
	if body == nil {
		body = make(map[string]any)
	}

	body[paddingField] = ""
	body[checksumField] = placeholder
	measured, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	delete(body, checksumField)

	padding, err := e.padding(len(measured))
	if err != nil {
		return nil, err
	}
	body[paddingField] = padding

	e.mu.RLock()
	key := e.key
	e.mu.RUnlock()

	sum, err := checksum(key, body)
	if err != nil {
		return nil, err
	}
	body[checksumField] = sum
	return body, nil
}

// Verify reports whether a decoded envelope carries a checksum made with the
// current or previous key.
func (e *Envelope) Verify(sealed map[string]any) bool {
	got, ok := sealed[checksumField].(string)
	if !ok {
		return false
	}
	body := make(map[string]any, len(sealed))
	for k, v := range sealed {
		if k != checksumField {
			body[k] = v
		}
	}

	e.mu.RLock()
	keys := [][]byte{e.key, e.previous}
	e.mu.RUnlock()

	for _, key := range keys {
		if key == nil {
			continue
		}
		want, err := checksum(key, body)
		if err == nil && hmac.Equal([]byte(want), []byte(got)) {
			return true
		}
	}
	return false
}

// padding returns filler that brings a body of size bytes up to the next
// bucket boundary plus a jitter in [0, maxPadding]. The filler is base64url,
// which JSON encodes without escapes, so it adds exactly its length.
func (e *Envelope) padding(size int) (string, error) {
	length := 0
	if e.bucket > 0 {
		length = (size+e.bucket-1)/e.bucket*e.bucket - size
	}
	if e.maxPadding > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(e.maxPadding)+1))
		if err != nil {
			return "", fmt.Errorf("padding length: %w", err)
		}
		length += int(n.Int64())
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, (length*3)/4+3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("padding: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:length], nil
}

// encoding/json sorts map keys, so the encoding is canonical.
func checksum(key []byte, body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
