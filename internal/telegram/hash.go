package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName is the name shown on leaderboards
func (u WebAppUser) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func ParseUser(initData string) (*WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, err
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, err
	}

	return &user, nil
}

// dataCheckString joins every field except hash as sorted key=value lines
func dataCheckString(values url.Values) string {
	var lines []string
	for k, v := range values {
		if k == "hash" {
			continue
		}
		lines = append(lines, k+"="+strings.Join(v, ""))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// signature is HMAC_SHA256(data_check_string, HMAC_SHA256(bot_token, "WebAppData"))
func signature(values url.Values, botToken string) []byte {
	key := hmac.New(sha256.New, []byte("WebAppData"))
	key.Write([]byte(botToken))

	h := hmac.New(sha256.New, key.Sum(nil))
	h.Write([]byte(dataCheckString(values)))
	return h.Sum(nil)
}

// SignInitData sets the hash field of values and returns the encoded init data
func SignInitData(values url.Values, botToken string) string {
	values.Del("hash")
	values.Set("hash", hex.EncodeToString(signature(values, botToken)))
	return values.Encode()
}
