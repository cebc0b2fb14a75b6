package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lostfound/pkg/utils"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type JWTer struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Issue 签发 HS256 访问令牌。jti 同时作为 Redis 会话键，吊销会话即令牌失效
func (j JWTer) Issue(accountID, email string) (token, jti string, err error) {
	now := time.Now()
	jti = utils.NewID()
	claims := Claims{
		UID:   accountID,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    j.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.TTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString([]byte(j.Secret))
	return token, jti, err
}

// Parse 校验签名 / 过期 / 签发方，失败一律归并为 ErrInvalidToken
func (j JWTer) Parse(token string) (*Claims, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(j.Secret), nil
	}, jwt.WithIssuer(j.Issuer), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
