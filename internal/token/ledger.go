// Package token はメール確認・パスワードリセット・二要素認証用の短命トークンを管理する。
// (email, type) ごとに有効なトークンは高々1つで、再発行すると以前のトークンは無効になる。
package token

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	// TwoFactorLifetime は二要素認証コードの有効期間。
	TwoFactorLifetime = 15 * time.Minute
	// DefaultLifetime はその他のトークンの有効期間。
	DefaultLifetime = 60 * time.Minute

	// maxTxRetries はWATCHが競合した場合の再試行回数。
	maxTxRetries = 5

	recordKeyPrefix = "token"
	valueKeyPrefix  = "token-value"
)

// Ledger はRedis上でトークンを発行・検索・消費する。
//
// キー構成:
//
//	token:<TYPE>:<email>        → トークン本体(JSON)
//	token-value:<TYPE>:<value>  → email（値からの逆引き）
//
// どちらのキーも有効期限 + retention のTTLを持つ。retentionの間は期限切れトークンも
// 読み出せるため、呼び出し元は「存在しない」と「期限切れ」を区別できる。
type Ledger struct {
	rdb       redis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

// NewLedger はLedgerを生成する。
func NewLedger(rdb redis.UniversalClient, retention time.Duration) *Ledger {
	return &Ledger{
		rdb:       rdb,
		retention: retention,
		now:       time.Now,
	}
}

// Issue は(email, kind)のトークンを新規発行する。既存のトークンがあれば同じトランザクションで無効化する。
// レコードキーをWATCHした楽観的トランザクションで実行するため、同時発行されても
// 有効なトークンが2つ残ることはない。
func (l *Ledger) Issue(ctx context.Context, email string, kind model.TokenType) (*model.Token, error) {
	value, err := generateValue(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token value: %w", err)
	}

	lifetime := Lifetime(kind)
	tok := &model.Token{
		ID:        uuid.New().String(),
		Value:     value,
		Email:     email,
		Type:      kind,
		ExpiresAt: l.now().Add(lifetime),
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}

	rk := recordKey(kind, email)
	ttl := lifetime + l.retention

	txf := func(tx *redis.Tx) error {
		prev, err := readRecord(ctx, tx, rk)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.Del(ctx, valueKey(kind, prev.Value))
			}
			pipe.Set(ctx, rk, payload, ttl)
			pipe.Set(ctx, valueKey(kind, value), email, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.rdb.Watch(ctx, txf, rk)
		if err == nil {
			slog.Debug("token issued",
				slog.String("email", email),
				slog.String("type", string(kind)),
			)
			return tok, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Warn("token issue contended",
		slog.String("email", email),
		slog.String("type", string(kind)),
	)
	return nil, model.NewTokenIssueFailedError()
}

// Lookup は値と種別が一致するトークンを取得する。emailが空でない場合は所有者でも絞り込む。
// 見つからない場合はnilを返す。有効期限の判定は呼び出し元で行う。
func (l *Ledger) Lookup(ctx context.Context, value string, kind model.TokenType, email string) (*model.Token, error) {
	if value == "" {
		return nil, nil
	}

	owner, err := l.rdb.Get(ctx, valueKey(kind, value)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	if email != "" && owner != email {
		return nil, nil
	}

	tok, err := readRecord(ctx, l.rdb, recordKey(kind, owner))
	if err != nil {
		return nil, err
	}
	// 置き換え済みの値は見つからない扱いにする
	if tok == nil || tok.Value != value {
		return nil, nil
	}
	return tok, nil
}

// LookupByEmail は(email, kind)の現在のトークンを取得する。見つからない場合はnilを返す。
func (l *Ledger) LookupByEmail(ctx context.Context, email string, kind model.TokenType) (*model.Token, error) {
	return readRecord(ctx, l.rdb, recordKey(kind, email))
}

// Consume はトークンを削除する。既に削除済み・置き換え済みでもエラーにしない。
// 置き換え後の新しいトークンは削除しない。
func (l *Ledger) Consume(ctx context.Context, tok *model.Token) error {
	rk := recordKey(tok.Type, tok.Email)

	txf := func(tx *redis.Tx) error {
		cur, err := readRecord(ctx, tx, rk)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if cur != nil && cur.ID == tok.ID {
				pipe.Del(ctx, rk)
			}
			pipe.Del(ctx, valueKey(tok.Type, tok.Value))
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.rdb.Watch(ctx, txf, rk)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to consume token: %w", err)
	}
	return fmt.Errorf("failed to consume token: %w", redis.TxFailedErr)
}

// Lifetime はトークン種別ごとの有効期間を返す。
func Lifetime(kind model.TokenType) time.Duration {
	if kind == model.TokenTwoFactor {
		return TwoFactorLifetime
	}
	return DefaultLifetime
}

// generateValue はトークン値を生成する。
// TWO_FACTORは100000〜999999の一様乱数、それ以外はUUID。
func generateValue(kind model.TokenType) (string, error) {
	if kind != model.TokenTwoFactor {
		return uuid.New().String(), nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readRecord はトークン本体を読み出す。存在しない場合はnilを返す。
func readRecord(ctx context.Context, g getter, key string) (*model.Token, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var tok model.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}

func recordKey(kind model.TokenType, email string) string {
	return recordKeyPrefix + ":" + string(kind) + ":" + email
}

func valueKey(kind model.TokenType, value string) string {
	return valueKeyPrefix + ":" + string(kind) + ":" + value
}
