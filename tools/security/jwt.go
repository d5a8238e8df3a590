package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"PPresence/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
	Issuer string
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Claims carries the identity plus the profile fields presence displays.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Image string   `json:"picture,omitempty"`
	Scope []string `json:"scope,omitempty"`
	jwtlib.RegisteredClaims
}

// ScopePublishEvents lets a service token publish through POST /api/events.
const ScopePublishEvents = "events:publish"

// Identity is the subject of the token.
func (c *Claims) Identity() string { return c.Subject }

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// HashToken is a log-safe fingerprint of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate 签发令牌。Session issuance lives elsewhere; this serves tools and tests.
func Generate(opts Options, userID, name, image string, scope ...string) (token string, expireAt time.Time, err error) {
	if userID == "" {
		return "", time.Time{}, errs.ErrArgs.WrapMsg("empty subject")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := Claims{
		Name:  name,
		Image: image,
		Scope: scope,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    opts.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "sign token")
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期，并要求 sub 非空
func Verify(opts Options, token string) (*Claims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if len(opts.Secret) == 0 {
		return nil, errs.ErrConfig.WrapMsg("jwt secret missing")
	}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{method.Alg()})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, errs.ErrUnauthorized.WrapMsg("invalid token", "err", err)
	}
	if !parsed.Valid {
		return nil, errs.ErrUnauthorized.WrapMsg("invalid token")
	}
	if claims.Subject == "" {
		return nil, errs.ErrUnauthorized.WrapMsg("token has no subject")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrConfig.WrapMsg("unsupported alg (use HS256/HS384/HS512)", "alg", alg)
	}
}
