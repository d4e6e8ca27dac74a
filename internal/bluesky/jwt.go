package bluesky

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRequester indicates the Authorization header did not carry a
// usable service JWT.
var ErrNoRequester = errors.New("bluesky: no requester identity in authorization header")

// RequesterDID extracts the requesting user's DID from the service JWT in
// an Authorization header ("Bearer <jwt>"). The DID is the token's iss
// claim. The signature is not verified here; the upstream AppView is the
// authority on token validity, this service only needs the identity to
// scope feeds to the viewer.
func RequesterDID(authorization string) (string, error) {
	parts := strings.Fields(authorization)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrNoRequester
	}

	segments := strings.Split(parts[1], ".")
	if len(segments) != 3 {
		return "", fmt.Errorf("%w: malformed JWT", ErrNoRequester)
	}

	payload, err := decodeBase64URL(segments[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRequester, err)
	}

	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRequester, err)
	}
	if claims.Iss == "" {
		return "", fmt.Errorf("%w: missing iss claim", ErrNoRequester)
	}
	return claims.Iss, nil
}

func decodeBase64URL(segment string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(segment); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(segment)
}
