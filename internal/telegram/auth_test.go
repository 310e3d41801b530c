package telegram

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"
)

const botToken = "test-bot-token"

// signedInitData builds init data the way the Telegram client does
func signedInitData(t *testing.T, fields map[string]string) string {
	t.Helper()
	vals := url.Values{}
	for k, v := range fields {
		vals.Set(k, v)
	}
	return SignInitData(vals, botToken)
}

func TestValidateInitData(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	user := `{"id":42,"username":"oak","first_name":"Ada"}`

	valid := signedInitData(t, map[string]string{"auth_date": fresh, "user": user, "query_id": "q1"})

	got, err := ValidateInitData(valid, botToken, time.Hour, now)
	if err != nil {
		t.Fatalf("valid init data rejected: %v", err)
	}
	if got.ID != 42 || got.DisplayName() != "oak" {
		t.Fatalf("user = %+v", got)
	}

	tests := []struct {
		name     string
		initData string
		token    string
		want     error
	}{
		{"tampered", valid + "&x=1", botToken, ErrBadHash},
		{"wrong token", valid, "other-token", ErrBadHash},
		{"no hash", "auth_date=" + fresh, botToken, ErrMalformed},
		{"stale", signedInitData(t, map[string]string{
			"auth_date": strconv.FormatInt(now.Add(-2*time.Hour).Unix(), 10), "user": user,
		}), botToken, ErrExpired},
		{"future", signedInitData(t, map[string]string{
			"auth_date": strconv.FormatInt(now.Add(time.Hour).Unix(), 10), "user": user,
		}), botToken, ErrExpired},
		{"no user", signedInitData(t, map[string]string{"auth_date": fresh}), botToken, ErrMissingUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateInitData(tt.initData, tt.token, time.Hour, now); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseUser(t *testing.T) {
	u, err := ParseUser("user=" + url.QueryEscape(`{"id":7,"first_name":"Ann","last_name":"Lee"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.ID != 7 || u.DisplayName() != "Ann Lee" {
		t.Fatalf("user = %+v", u)
	}
}
