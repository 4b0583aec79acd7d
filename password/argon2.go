package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	floorMemoryKB    uint32 = 8 * 1024
	floorTime        uint32 = 1
	floorParallelism uint8  = 1
	floorSaltLength  uint32 = 16
	floorKeyLength   uint32 = 16
	phcAlgorithm            = "argon2id"
)

var (
	// ErrEmptyPassword is returned by Hash for a zero-length password.
	ErrEmptyPassword = errors.New("password: empty password")
	// ErrMalformedHash is returned when a stored hash is not a valid argon2id PHC string.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrWeakParams is returned by New when a parameter is below the floor.
	ErrWeakParams = errors.New("password: argon2 parameters below floor")
)

// Params holds the argon2id cost parameters.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the parameters new hashes are produced with unless
// configured otherwise.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks every parameter against its floor.
func (p Params) Validate() error {
	switch {
	case p.Memory < floorMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KB", ErrWeakParams, floorMemoryKB)
	case p.Time < floorTime:
		return fmt.Errorf("%w: time must be >= %d", ErrWeakParams, floorTime)
	case p.Parallelism < floorParallelism:
		return fmt.Errorf("%w: parallelism must be >= %d", ErrWeakParams, floorParallelism)
	case p.SaltLength < floorSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrWeakParams, floorSaltLength)
	case p.KeyLength < floorKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrWeakParams, floorKeyLength)
	}
	return nil
}

// Hasher produces and checks argon2id PHC strings. It is safe for concurrent use.
type Hasher struct {
	params Params
	rand   io.Reader
}

// New returns a Hasher for p.
func New(p Params) (*Hasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p, rand: rand.Reader}, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// The password bytes are used as given.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	var b strings.Builder
	b.Grow(96)
	fmt.Fprintf(&b, "$%s$v=%d$m=%d,t=%d,p=%d$", phcAlgorithm, argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism)
	b.WriteString(base64.RawStdEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(base64.RawStdEncoding.EncodeToString(key))
	return b.String(), nil
}

// Verify reports whether password matches encoded. A malformed hash is an
// error, a mismatch is not.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), stored.salt, stored.params.Time, stored.params.Memory, stored.params.Parallelism, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker or different
// parameters than the Hasher's.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	p := stored.params
	return h.params.Memory > p.Memory ||
		h.params.Time > p.Time ||
		h.params.Parallelism > p.Parallelism ||
		h.params.KeyLength != uint32(len(stored.key)), nil
}

type phcHash struct {
	params Params
	salt   []byte
	key    []byte
}

func decodePHC(encoded string) (phcHash, error) {
	var out phcHash

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcAlgorithm {
		return out, ErrMalformedHash
	}

	version, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return out, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return out, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	params, err := decodeParams(fields[3])
	if err != nil {
		return out, err
	}
	out.params = params

	if out.salt, err = decodeSegment(fields[4]); err != nil || len(out.salt) < int(floorSaltLength) {
		return out, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if out.key, err = decodeSegment(fields[5]); err != nil || len(out.key) == 0 {
		return out, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	out.params.SaltLength = uint32(len(out.salt))
	out.params.KeyLength = uint32(len(out.key))
	return out, nil
}

// decodeSegment accepts both padded and unpadded base64.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func decodeParams(field string) (Params, error) {
	var p Params
	seen := 0
	for _, pair := range strings.Split(field, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return p, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < floorMemoryKB {
				return p, fmt.Errorf("%w: bad memory", ErrMalformedHash)
			}
			p.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < floorTime {
				return p, fmt.Errorf("%w: bad time", ErrMalformedHash)
			}
			p.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < floorParallelism {
				return p, fmt.Errorf("%w: bad parallelism", ErrMalformedHash)
			}
			p.Parallelism = uint8(v)
		default:
			return p, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 || p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return p, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return p, nil
}
