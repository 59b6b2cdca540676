package muconnection

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/function61/gokit/cryptorandombytes"
	"github.com/minio/sha256-simd"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

// the OAuth redirect round trip leaves our process, so the state parameter is the
// only thing tying the callback to the session that started it. we make it a signed
// claims blob instead of a server-side session row
type StateClaims struct {
	UserID       string             `json:"user_id"`
	ConnectionID string             `json:"connection_id,omitempty"` // empty = establishing a new connection
	Kind         mutypes.ProviderKind `json:"kind"`
	Nonce        string             `json:"nonce"`
	IssuedAt     time.Time          `json:"issued_at"`
}

const stateMaxAge = 10 * time.Minute

func NewStateClaims(userID string, connectionID string, kind mutypes.ProviderKind, now time.Time) StateClaims {
	return StateClaims{
		UserID:       userID,
		ConnectionID: connectionID,
		Kind:         kind,
		Nonce:        cryptorandombytes.Base64Url(16),
		IssuedAt:     now,
	}
}

// token = b64url(json claims) + "." + b64url(hmac-sha256(key, json claims))
func SignState(claims StateClaims, key []byte) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(stateMac(payload, key)), nil
}

// every failure mode (malformed, tampered, too old) is an auth error - the callback
// handler treats them all as "start over"
func VerifyState(token string, key []byte, now time.Time) (*StateClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, mutypes.AuthErrorf("oauth state: malformed token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, mutypes.AuthErrorf("oauth state: %v", err)
	}

	mac, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, mutypes.AuthErrorf("oauth state: %v", err)
	}

	if !hmac.Equal(mac, stateMac(payload, key)) {
		return nil, mutypes.AuthErrorf("oauth state: signature mismatch")
	}

	claims := &StateClaims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, mutypes.AuthErrorf("oauth state: %v", err)
	}

	age := now.Sub(claims.IssuedAt)
	if age < 0 || age > stateMaxAge {
		return nil, mutypes.AuthErrorf("oauth state: expired (age %s)", age)
	}

	return claims, nil
}

func stateMac(payload []byte, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}
