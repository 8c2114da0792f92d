package realtime

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FeedAudience is the audience every feed token must carry.
const FeedAudience = "iotc-agent-feed"

// FeedClaims are the claims of a local feed token. Topics lists what the
// bearer may subscribe to; empty means every topic.
type FeedClaims struct {
	Topics []string `json:"topics,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant topic.
func (c *FeedClaims) Allows(topic string) bool {
	return len(c.Topics) == 0 || slices.Contains(c.Topics, topic)
}

// IssueFeedToken signs an HS256 token for subject. A zero ttl means no expiry.
func IssueFeedToken(secret []byte, subject string, topics []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("feed secret is empty")
	}
	now := time.Now()
	claims := FeedClaims{
		Topics: topics,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Audience: jwt.ClaimStrings{FeedAudience},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyFeedToken checks signature, audience and expiry of tokenString.
func VerifyFeedToken(secret []byte, tokenString string) (*FeedClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("feed secret is empty")
	}

	claims := &FeedClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(FeedAudience),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
