package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer generates BitMEX-compatible authentication headers. Keys are held as
// byte slices so they can be wiped on shutdown.
type Signer struct {
	apiKey    []byte
	apiSecret []byte
	window    time.Duration
	now       func() time.Time
}

// NewSigner creates a signer with the given request validity window.
func NewSigner(apiKey, apiSecret string, window time.Duration) *Signer {
	return &Signer{
		apiKey:    []byte(apiKey),
		apiSecret: []byte(apiSecret),
		window:    window,
		now:       time.Now,
	}
}

// Wipe clears key material from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.apiKey {
		s.apiKey[i] = 0
	}
	for i := range s.apiSecret {
		s.apiSecret[i] = 0
	}
}

// Sign computes hex(HMAC-SHA256(secret, VERB + path[?query] + expires + body)).
// The venue rejects the request if expires has passed before receipt.
func (s *Signer) Sign(method string, u *url.URL, expires int64, body string) string {
	path := u.Path
	if u.RawQuery != "" {
		path = path + "?" + u.RawQuery
	}

	message := strings.ToUpper(method) + path + strconv.FormatInt(expires, 10) + body

	mac := hmac.New(sha256.New, s.apiSecret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Apply stamps authentication headers onto an outbound request.
func (s *Signer) Apply(req *http.Request, body string) {
	expires := s.now().Add(s.window).Unix()

	req.Header.Set("api-expires", strconv.FormatInt(expires, 10))
	req.Header.Set("api-key", string(s.apiKey))
	req.Header.Set("api-signature", s.Sign(req.Method, req.URL, expires, body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}
