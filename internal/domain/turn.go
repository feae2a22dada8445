package domain

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TURNCredentials are short-lived relay credentials following the TURN
// REST long-term-credential scheme. The HMAC must be bit-exact since it
// is verified by an external TURN server sharing the same secret.
type TURNCredentials struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int      `json:"ttl"`
}

// TURNIssuer issues and validates relay credentials. Stateless; safe for
// concurrent use.
type TURNIssuer struct {
	secret []byte
	urls   []string
	ttl    time.Duration
	now    func() time.Time
}

// NewTURNIssuer creates an issuer. URLs is the configured list of turn:
// and turns: endpoints handed to clients.
func NewTURNIssuer(secret string, urls []string, ttl time.Duration) *TURNIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TURNIssuer{
		secret: []byte(secret),
		urls:   urls,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueCredentials produces credentials valid for the configured TTL:
// username is "<expiryUnix>:<deviceID>", credential is
// base64(HMAC-SHA1(secret, username)).
func (i *TURNIssuer) IssueCredentials(deviceID string) TURNCredentials {
	expiry := i.now().Add(i.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, deviceID)
	return TURNCredentials{
		URLs:       i.urls,
		Username:   username,
		Credential: i.sign(username),
		TTL:        int(i.ttl / time.Second),
	}
}

// Validate recomputes the HMAC and compares in constant time.
func (i *TURNIssuer) Validate(username, credential string) bool {
	return hmac.Equal([]byte(i.sign(username)), []byte(credential))
}

// IsExpired parses the leading expiry timestamp out of the username.
// Malformed usernames are treated as expired.
func (i *TURNIssuer) IsExpired(username string) bool {
	ts, _, ok := strings.Cut(username, ":")
	if !ok {
		return true
	}
	expiry, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return true
	}
	return i.now().Unix() >= expiry
}

func (i *TURNIssuer) sign(username string) string {
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
