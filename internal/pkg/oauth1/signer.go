// Package oauth1 signs requests to legacy OAuth 1.0a providers with HMAC-SHA1.
package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
)

const (
	SignatureMethod = "HMAC-SHA1"
	Version         = "1.0"
)

// Signer builds OAuth Authorization header values. Nonce and Now can be
// replaced to make output deterministic.
type Signer struct {
	Nonce func() (string, error)
	Now   func() time.Time
}

// NewSigner returns a signer using crypto/rand nonces and wall-clock time.
func NewSigner() *Signer {
	return &Signer{Nonce: RandomNonce, Now: time.Now}
}

// RandomNonce returns 16 random bytes, hex encoded.
func RandomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Sign signs with a default signer.
func Sign(method, rawURL, consumerKey, consumerSecret, token, tokenSecret string) (string, error) {
	return NewSigner().Sign(method, rawURL, consumerKey, consumerSecret, token, tokenSecret)
}

// Sign returns the value for an Authorization header, starting with "OAuth ".
func (s *Signer) Sign(method, rawURL, consumerKey, consumerSecret, token, tokenSecret string) (string, error) {
	if strings.TrimSpace(method) == "" {
		return "", &autherr.SignatureError{Field: "method", Reason: "is empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &autherr.SignatureError{Field: "url", Reason: "must be an absolute URL"}
	}
	if consumerKey == "" {
		return "", &autherr.SignatureError{Field: "consumer key", Reason: "is empty"}
	}
	if consumerSecret == "" {
		return "", &autherr.SignatureError{Field: "consumer secret", Reason: "is empty"}
	}

	nonce, err := s.nonce()
	if err != nil {
		return "", &autherr.SignatureError{Field: "nonce", Reason: err.Error()}
	}

	params := map[string]string{
		"oauth_consumer_key":     consumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": SignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            token,
		"oauth_version":          Version,
	}

	base := BaseString(method, rawURL, params)
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	params["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := sortedKeys(params)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+`="`+PercentEncode(params[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// BaseString builds the signature base string for method, url and params.
func BaseString(method, rawURL string, params map[string]string) string {
	keys := sortedKeys(params)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, PercentEncode(k)+"="+PercentEncode(params[k]))
	}
	return strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(strings.Join(pairs, "&"))
}

// PercentEncode applies RFC 3986 encoding: everything except ALPHA, DIGIT and
// "-._~" becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' ||
		'a' <= c && c <= 'z' ||
		'0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Signer) nonce() (string, error) {
	if s.Nonce == nil {
		return RandomNonce()
	}
	return s.Nonce()
}

func (s *Signer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
