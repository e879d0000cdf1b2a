// Package invite は管理者招待トークンの発行と引き換えを提供する。
//
// トークンはHS256署名のJWTで、発行者(既存の管理者)と有効期限を持つ。
// 引き換え済みのトークンIDはadminInvitesコレクションに記録し、同じトークンは1回しか使えない。
package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// RedemptionsCollection は引き換え済み招待を記録するコレクション。
const RedemptionsCollection = "adminInvites"

const (
	issuer  = "eplan"
	subject = "admin-invite"
)

// 定義済みエラー
var (
	ErrDisabled        = errors.New("invite: invites are disabled")
	ErrInvalidToken    = errors.New("invite: invalid token")
	ErrAlreadyRedeemed = errors.New("invite: token already redeemed")
)

// Claims は招待トークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	IssuedBy string `json:"issuedBy"`
}

// Manager は招待トークンを扱う。
type Manager struct {
	secret []byte
	ttl    time.Duration
	store  docstore.Store
	now    func() time.Time
}

// NewManager はManagerを生成する。secretが空の場合、招待機能は無効になる。
func NewManager(secret string, ttl time.Duration, store docstore.Store) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}
}

// Enabled は招待機能が有効かどうかを返す。
func (m *Manager) Enabled() bool {
	return m != nil && len(m.secret) > 0
}

// Issue は招待トークンを発行する。
func (m *Manager) Issue(adminID string) (string, time.Time, error) {
	if !m.Enabled() {
		return "", time.Time{}, ErrDisabled
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedBy: adminID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign invite: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンの署名・有効期限・発行者を検証してクレームを返す。
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subject),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Redeem はトークンを検証し、userIDによる引き換えを記録する。
func (m *Manager) Redeem(ctx context.Context, tokenString, userID string) (*Claims, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	err = m.store.Create(ctx, RedemptionsCollection, claims.ID, map[string]any{
		"redeemedBy": userID,
		"issuedBy":   claims.IssuedBy,
		"redeemedAt": timestamp.ISO(m.now()),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, ErrAlreadyRedeemed
	}
	if err != nil {
		return nil, fmt.Errorf("record invite redemption: %w", err)
	}
	return claims, nil
}
