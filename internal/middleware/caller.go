package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"photoenhance/internal/domain"
)

// Headers an internal service sends alongside the shared secret.
const (
	HeaderInternalService = "X-Internal-Service"
	HeaderUserID          = "X-User-Id"
)

type TokenClaims struct {
	Sub      string `json:"sub"`
	Locale   string `json:"locale,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

type callerKey struct{}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token")
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errors.New("invalid signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token expired")
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

// ResolveCaller turns request credentials into a caller. It never rejects a
// request; handlers decide what each caller kind may do.
//
//	Bearer <internal secret> + X-Internal-Service  -> internal service
//	Bearer <internal secret>                       -> admin token
//	Bearer <HS256 JWT>                             -> end user
//	anything else                                  -> anonymous
func ResolveCaller(r *http.Request, jwtSecret, internalSecret string) (domain.Caller, *TokenClaims) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return domain.Caller{Kind: domain.CallerAnonymous}, nil
	}
	if internalSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(internalSecret)) == 1 {
		if service := strings.TrimSpace(r.Header.Get(HeaderInternalService)); service != "" {
			return domain.InternalService(service, strings.TrimSpace(r.Header.Get(HeaderUserID))), nil
		}
		return domain.AdminToken(), nil
	}
	if jwtSecret == "" {
		return domain.Caller{Kind: domain.CallerAnonymous}, nil
	}
	claims, err := VerifyJWT(jwtSecret, token)
	if err != nil {
		return domain.Caller{Kind: domain.CallerAnonymous}, nil
	}
	return domain.EndUser(claims.Sub), claims
}

// Authenticate stores the resolved caller on the request context.
func Authenticate(jwtSecret, internalSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, claims := ResolveCaller(r, jwtSecret, internalSecret)
			ctx := ContextWithCaller(r.Context(), caller)
			if claims != nil && claims.Locale != "" && r.Header.Get("X-Locale") == "" {
				ctx = context.WithValue(ctx, LocaleKey, normalizeLocale(claims.Locale))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// CallerFromContext returns the caller resolved by Authenticate, anonymous
// when none was stored.
func CallerFromContext(ctx context.Context) domain.Caller {
	if c, ok := ctx.Value(callerKey{}).(domain.Caller); ok {
		return c
	}
	return domain.Caller{Kind: domain.CallerAnonymous}
}

func ContextWithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}
