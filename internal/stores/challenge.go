package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1
	grantRecordVersionV1     = 1
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeMismatch         = errors.New("challenge code mismatch")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
	ErrGrantNotFound             = errors.New("grant not found")
)

// ChallengeRecord is one outstanding one-time code. Only the SHA-256 of the
// code is kept.
type ChallengeRecord struct {
	UserID    string
	Method    uint8
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// GrantRecord authorizes exactly one password commit for a subject after its
// code was accepted.
type GrantRecord struct {
	UserID    string
	GrantID   string
	ExpiresAt int64
}

// ChallengeStore keeps challenge and grant records keyed by purpose and
// subject. A subject is an opaque hash of the normalized identifier.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "grc"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) challengeKey(purpose, subject string) string {
	return s.prefix + ":" + purpose + ":c:" + subject
}

func (s *ChallengeStore) grantKey(purpose, subject string) string {
	return s.prefix + ":" + purpose + ":g:" + subject
}

// Save stores record for subject, replacing any outstanding challenge.
func (s *ChallengeStore) Save(
	ctx context.Context,
	purpose, subject string,
	record *ChallengeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.challengeKey(purpose, subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Delete drops the outstanding challenge for subject. Missing records are not
// an error.
func (s *ChallengeStore) Delete(ctx context.Context, purpose, subject string) error {
	if err := s.redis.Del(ctx, s.challengeKey(purpose, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Get returns the outstanding challenge without consuming it.
func (s *ChallengeStore) Get(ctx context.Context, purpose, subject string) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.challengeKey(purpose, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	record, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrChallengeNotFound
	}
	return record, nil
}

// Consume checks providedHash against the outstanding challenge. A match
// deletes the record and returns it. A miss increments the attempt counter and
// deletes the record once maxAttempts is reached.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	purpose, subject string,
	providedHash [32]byte,
	maxAttempts int,
) (*ChallengeRecord, error) {
	const maxRetries = 4
	key := s.challengeKey(purpose, subject)

	for i := 0; i < maxRetries; i++ {
		var matched *ChallengeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := deleteInTx(ctx, tx, key); err != nil {
						return err
					}
					return ErrChallengeAttemptsExceeded
				}

				updated, err := encodeChallengeRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeMismatch
			}

			if err := deleteInTx(ctx, tx, key); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeMismatch), errors.Is(err, ErrChallengeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrChallengeNotFound
}

// SaveGrant stores a commit grant for subject, replacing any previous grant.
func (s *ChallengeStore) SaveGrant(
	ctx context.Context,
	purpose, subject string,
	record *GrantRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeGrantRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.grantKey(purpose, subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// ConsumeGrant removes and returns the grant for subject. A non-empty grantID
// must match the stored one; a mismatch leaves the grant in place.
func (s *ChallengeStore) ConsumeGrant(ctx context.Context, purpose, subject, grantID string) (*GrantRecord, error) {
	const maxRetries = 4
	key := s.grantKey(purpose, subject)

	for i := 0; i < maxRetries; i++ {
		var consumed *GrantRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeGrantRecord(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrGrantNotFound
			}
			if grantID != "" && subtle.ConstantTimeCompare([]byte(record.GrantID), []byte(grantID)) != 1 {
				return ErrGrantNotFound
			}

			if err := deleteInTx(ctx, tx, key); err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, ErrGrantNotFound):
				return nil, ErrGrantNotFound
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}
		return consumed, nil
	}

	return nil, ErrGrantNotFound
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	buf.WriteByte(record.Method)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record := &ChallengeRecord{Method: method}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func encodeGrantRecord(record *GrantRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(grantRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.GrantID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGrantRecord(data []byte) (*GrantRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != grantRecordVersionV1 {
		return nil, errors.New("invalid grant record version")
	}

	record := &GrantRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if record.GrantID, err = readString(reader); err != nil {
		return nil, err
	}
	return record, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 65535 {
		return errors.New("record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
