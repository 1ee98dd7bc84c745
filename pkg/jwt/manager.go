package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Manager 负责 JWT 的签发与解析
// 连接握手只信任验签后的 subject，不接受客户端自报的用户ID
type Manager interface {
	Generate(jti, subject string, ttl time.Duration) (string, error)
	Parse(tokenStr string) (*jwt.RegisteredClaims, error)
}

type manager struct {
	secret []byte
}

// NewManager 用给定的 secret 构造 Manager
func NewManager(secret string) Manager {
	return &manager{secret: []byte(secret)}
}

// Generate 生成一个带 jti 和 subject 的 JWT，ttl 控制过期时间
func (m *manager) Generate(jti, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse 验签并解析 JWT，返回 RegisteredClaims
func (m *manager) Parse(tokenStr string) (*jwt.RegisteredClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{},
		func(_ *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
