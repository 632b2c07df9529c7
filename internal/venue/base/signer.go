package base

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HMACSigner signs requests with an API key header and an HMAC-SHA256
// signature over timestamp, method, path, and body.
type HMACSigner struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewHMACSigner creates a signer from the venue credentials
func NewHMACSigner(apiKey, apiSecret string) *HMACSigner {
	return &HMACSigner{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

// SignRequest implements the http client Signer interface
func (s *HMACSigner) SignRequest(req *http.Request) error {
	if s.apiKey == "" {
		return nil
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read body for signing: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	payload := timestamp + req.Method + req.URL.Path + string(body)

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(payload))

	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return nil
}
