package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"go.uber.org/zap"
)

// dialect holds the statements that differ between drivers.
type dialect struct {
	name           string
	byEmail        string
	byPhone        string
	byID           string
	updatePassword string
	markVerified   string
	insert         string
	isDuplicate    func(error) bool
}

// sqlStore implements UserStore over database/sql.
type sqlStore struct {
	db     *sql.DB
	q      dialect
	logger *zap.Logger
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) GetUserByIdentifier(ctx context.Context, id goRecover.Identifier) (goRecover.UserRecord, error) {
	query := s.q.byEmail
	value := strings.ToLower(strings.TrimSpace(id.Value))
	if id.Method == goRecover.MethodPhone {
		query = s.q.byPhone
		value = strings.TrimSpace(id.Value)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goRecover.UserRecord{}, fmt.Errorf("%s user by %s: %w", s.q.name, id.Method, goRecover.ErrUserNotFound)
		}
		s.logger.Error("user lookup failed", zap.String("method", id.Method.String()), zap.Error(err))
		return goRecover.UserRecord{}, fmt.Errorf("%s user by %s: %w", s.q.name, id.Method, err)
	}
	return u, nil
}

func (s *sqlStore) GetUserByID(ctx context.Context, userID string) (goRecover.UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q.byID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goRecover.UserRecord{}, fmt.Errorf("%s user %s: %w", s.q.name, userID, goRecover.ErrUserNotFound)
		}
		s.logger.Error("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return goRecover.UserRecord{}, fmt.Errorf("%s user %s: %w", s.q.name, userID, err)
	}
	return u, nil
}

func (s *sqlStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := s.db.ExecContext(ctx, s.q.updatePassword, newHash, userID)
	if err != nil {
		s.logger.Error("password update failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%s update password for %s: %w", s.q.name, userID, err)
	}
	return expectOneRow(res, userID)
}

func (s *sqlStore) MarkEmailVerified(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, s.q.markVerified, userID)
	if err != nil {
		s.logger.Error("mark verified failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%s mark verified for %s: %w", s.q.name, userID, err)
	}
	return expectOneRow(res, userID)
}

func (s *sqlStore) CreateUser(ctx context.Context, u goRecover.UserRecord) error {
	_, err := s.db.ExecContext(ctx, s.q.insert,
		u.UserID,
		u.Name,
		nilIfEmpty(strings.ToLower(strings.TrimSpace(u.Email))),
		nilIfEmpty(strings.TrimSpace(u.Phone)),
		u.PasswordHash,
		u.EmailVerified,
	)
	if err != nil {
		if s.q.isDuplicate != nil && s.q.isDuplicate(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, u.UserID)
		}
		return fmt.Errorf("%s insert user %s: %w", s.q.name, u.UserID, err)
	}
	s.logger.Debug("user created", zap.String("user_id", u.UserID))
	return nil
}

func scanUser(row *sql.Row) (goRecover.UserRecord, error) {
	var u goRecover.UserRecord
	var email, phone sql.NullString
	if err := row.Scan(&u.UserID, &u.Name, &email, &phone, &u.PasswordHash, &u.EmailVerified); err != nil {
		return goRecover.UserRecord{}, err
	}
	u.Email = email.String
	u.Phone = phone.String
	return u, nil
}

func expectOneRow(res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, goRecover.ErrUserNotFound)
	}
	return nil
}

// nilIfEmpty maps "" to NULL so unique indexes ignore missing values.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
