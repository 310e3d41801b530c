// Package telegram verifies Telegram WebApp launch parameters.
package telegram

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"
)

// maxFutureSkew tolerates clocks slightly ahead of ours
const maxFutureSkew = 5 * time.Minute

var (
	ErrMalformed   = errors.New("malformed init data")
	ErrBadHash     = errors.New("init data signature mismatch")
	ErrExpired     = errors.New("init data expired")
	ErrMissingUser = errors.New("init data carries no user")
)

// ValidateInitData checks the signature and freshness of initData and returns the user it carries
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrMalformed
	}

	provided, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(provided) == 0 {
		return nil, ErrMalformed
	}
	if !hmac.Equal(signature(values, botToken), provided) {
		return nil, ErrBadHash
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issued := time.Unix(authDate, 0)
	if now.Sub(issued) > maxAge || issued.Sub(now) > maxFutureSkew {
		return nil, ErrExpired
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, ErrMissingUser
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == 0 {
		return nil, ErrMissingUser
	}
	return &user, nil
}
