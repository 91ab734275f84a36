// Package session はRedis上のログインセッションと、ユーザーごとのセッション逆引きインデックスを管理する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/redis/go-redis/v9"
)

// pruneScanCount はPruneIndexで1回のSCANが返すキー数の目安。
const pruneScanCount = 100

// Store はセッションを永続化する。
//
// キー構成:
//
//	<prefix>:<handle>        → セッション本体(JSON)、TTLはmaxAge
//	user:<prefix>:<userId>   → そのユーザーのセッションハンドル集合
//
// 本体の書き込みとインデックスへの追加は同じMULTI/EXECで行う。
// インデックスに死んだハンドルが残ることはあるが、生きているセッションが欠けることはない。
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(rdb redis.UniversalClient, prefix string, maxAge time.Duration) *Store {
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Create は新しいハンドルを払い出してセッションを保存する。
func (s *Store) Create(ctx context.Context, userID string) (*model.Session, error) {
	handle, err := generateHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session handle: %w", err)
	}
	return s.Save(ctx, handle, userID)
}

// Replace はリクエストが持っていたセッションを破棄してから新しいセッションを発行する。
// 同じブラウザで再ログインしたとき、上書きされたCookieの古いハンドルを生かしたままにしない。
// currentが空または既に存在しない場合はCreateと同じ。
func (s *Store) Replace(ctx context.Context, current, userID string) (*model.Session, error) {
	if current != "" {
		old, err := s.Find(ctx, current)
		if err != nil {
			return nil, err
		}
		if old != nil {
			if err := s.Destroy(ctx, current, old.UserID); err != nil {
				return nil, err
			}
		}
	}
	return s.Create(ctx, userID)
}

// Save はセッション本体を書き込み、ハンドルをユーザーの逆引きインデックスに追加する。
// 書き込みに失敗した場合はSESSION_PERSIST_FAILEDを返す。
func (s *Store) Save(ctx context.Context, handle, userID string) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:        handle,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.maxAge),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	indexKey := s.indexKey(userID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(handle), payload, s.maxAge)
		pipe.SAdd(ctx, indexKey, handle)
		pipe.Expire(ctx, indexKey, s.maxAge)
		return nil
	})
	if err != nil {
		slog.Error("failed to save session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSessionPersistFailedError()
	}

	return sess, nil
}

// Find はハンドルに対応するセッションを取得する。存在しない・期限切れの場合はnilを返す。
func (s *Store) Find(ctx context.Context, handle string) (*model.Session, error) {
	if handle == "" {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, s.sessionKey(handle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.ID = handle
	return &sess, nil
}

// Destroy はハンドルをインデックスから外し、セッション本体を削除する。何度呼んでもよい。
func (s *Store) Destroy(ctx context.Context, handle, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.indexKey(userID), handle)
		pipe.Del(ctx, s.sessionKey(handle))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// DestroyAll はユーザーの全セッションとインデックスを削除し、削除したハンドル数を返す。
func (s *Store) DestroyAll(ctx context.Context, userID string) (int, error) {
	indexKey := s.indexKey(userID)

	handles, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range handles {
			pipe.Del(ctx, s.sessionKey(h))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to destroy sessions: %w", err)
	}

	return len(handles), nil
}

// ListByUser はユーザーの生きているセッションハンドルを返す。
// 本体が消えているハンドルはこの時点でインデックスから取り除く。
func (s *Store) ListByUser(ctx context.Context, userID string) ([]string, error) {
	indexKey := s.indexKey(userID)

	handles, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	live, dead, err := s.partition(ctx, handles)
	if err != nil {
		return nil, err
	}
	if len(dead) > 0 {
		if err := s.rdb.SRem(ctx, indexKey, toAny(dead)...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune session index: %w", err)
		}
	}
	return live, nil
}

// PruneIndex は全ユーザーの逆引きインデックスを走査し、本体が消えたハンドルを取り除く。
// 取り除いたハンドル数を返す。
func (s *Store) PruneIndex(ctx context.Context) (int, error) {
	pattern := "user:" + s.prefix + ":*"
	removed := 0

	iter := s.rdb.Scan(ctx, 0, pattern, pruneScanCount).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()

		handles, err := s.rdb.SMembers(ctx, indexKey).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list sessions: %w", err)
		}
		_, dead, err := s.partition(ctx, handles)
		if err != nil {
			return removed, err
		}
		if len(dead) == 0 {
			continue
		}
		if err := s.rdb.SRem(ctx, indexKey, toAny(dead)...).Err(); err != nil {
			return removed, fmt.Errorf("failed to prune session index: %w", err)
		}
		removed += len(dead)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan session indexes: %w", err)
	}

	return removed, nil
}

// partition はハンドルを本体が存在するものと存在しないものに分ける。
func (s *Store) partition(ctx context.Context, handles []string) (live, dead []string, err error) {
	if len(handles) == 0 {
		return nil, nil, nil
	}

	cmds := make([]*redis.IntCmd, len(handles))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range handles {
			cmds[i] = pipe.Exists(ctx, s.sessionKey(h))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check sessions: %w", err)
	}

	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			live = append(live, handles[i])
		} else {
			dead = append(dead, handles[i])
		}
	}
	return live, dead, nil
}

func (s *Store) sessionKey(handle string) string {
	return s.prefix + ":" + handle
}

func (s *Store) indexKey(userID string) string {
	return "user:" + s.prefix + ":" + userID
}

// generateHandle は暗号的に安全なセッションハンドルを生成する。
func generateHandle() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, v := range ss {
		out[i] = v
	}
	return out
}
