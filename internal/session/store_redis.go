package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlSession = 24 * time.Hour

// Store persists sessions as JSON documents in Redis.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keySession(code string) string { return "gs:" + NormalizeCode(code) }
func (s *Store) keyUserIdx(user string) string { return "gs:index:user:" + strings.TrimSpace(user) }
func (s *Store) keyOpen() string               { return "gs:open" }

// NormalizeCode canonicalizes a join code: trimmed, uppercase.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keySession(sess.Code), raw, ttlSession).Err()
}

func (s *Store) Load(ctx context.Context, code string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

// ClaimCode reserves a fresh join code. Returns false when the code is taken.
func (s *Store) ClaimCode(ctx context.Context, code string) (bool, error) {
	return s.rdb.SetNX(ctx, s.keySession(code), []byte("{}"), ttlSession).Result()
}

func (s *Store) IndexUser(ctx context.Context, userID, code string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.keyUserIdx(userID), NormalizeCode(code)).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyUserIdx(userID), ttlSession).Err()
}

func (s *Store) CodesByUser(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyUserIdx(userID)).Result()
}

// Open-session index, used for the public lobby listing.
func (s *Store) AddOpen(ctx context.Context, code string) error {
	if err := s.rdb.SAdd(ctx, s.keyOpen(), NormalizeCode(code)).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyOpen(), ttlSession).Err()
}

func (s *Store) RemoveOpen(ctx context.Context, code string) error {
	return s.rdb.SRem(ctx, s.keyOpen(), NormalizeCode(code)).Err()
}

// ListOpen returns joinable public sessions.
func (s *Store) ListOpen(ctx context.Context) ([]*Session, error) {
	codes, err := s.rdb.SMembers(ctx, s.keyOpen()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, c := range codes {
		sess, _ := s.Load(ctx, c)
		if sess == nil || sess.Status != StatusWaiting || sess.Private {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	if sess.Code == "" {
		// placeholder written by ClaimCode, not a session yet
		return nil, nil
	}
	return &sess, nil
}

// codeGen returns 6 upper alnum characters.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}
