package tokens

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vaultgate/auth/core"
)

// tenantIDFromUnverifiedClaims reads the "tid" claim out of a JWT's
// payload segment without verifying its signature. This is only used to
// pick which tenant's signing key to verify against; the subsequent
// Verify call is what actually checks the signature.
func tenantIDFromUnverifiedClaims(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed jwt")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	var claims struct {
		TenantID string `json:"tid"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("unmarshal payload: %w", err)
	}
	if claims.TenantID == "" {
		return "", fmt.Errorf("missing tid claim")
	}
	return claims.TenantID, nil
}

func encodeTokenPair(pair *core.TokenPair) (string, error) {
	b, err := json.Marshal(pair)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTokenPair(encoded string) (*core.TokenPair, error) {
	var pair core.TokenPair
	if err := json.Unmarshal([]byte(encoded), &pair); err != nil {
		return nil, fmt.Errorf("decode cached token pair: %w", err)
	}
	return &pair, nil
}
