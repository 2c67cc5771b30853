package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DeviceAuthMiddleware validates signed requests from fleet devices. Devices
// cannot hold console JWTs; they sign each request body with a shared fleet
// secret and a timestamp to bound replay.
type DeviceAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
}

// NewDeviceAuthMiddleware constructs device auth middleware.
func NewDeviceAuthMiddleware(secret []byte, maxSkew time.Duration) *DeviceAuthMiddleware {
	return &DeviceAuthMiddleware{Secret: secret, MaxSkew: maxSkew}
}

// Wrap enforces device signature validation.
func (m *DeviceAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "device auth not configured", http.StatusUnauthorized)
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get("X-Device-Timestamp"))
		signature := strings.TrimSpace(r.Header.Get("X-Device-Signature"))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing device signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid device timestamp", http.StatusUnauthorized)
			return
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "device signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := computeDeviceSignature(m.Secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid device signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// ComputeDeviceSignature is exported for device SDKs and tests.
func ComputeDeviceSignature(secret []byte, timestamp string, body []byte) string {
	return computeDeviceSignature(secret, timestamp, body)
}

func computeDeviceSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
