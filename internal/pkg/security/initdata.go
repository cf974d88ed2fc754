package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInitData is returned for any authentication failure of a
// Telegram Mini-App initData payload: bad signature, missing fields or
// an expired auth_date.
var ErrInvalidInitData = errors.New("invalid init data")

// initData signatures are keyed by HMAC-SHA256("WebAppData", botToken)
// as defined by the Telegram WebApp docs.
const initDataKeyConstant = "WebAppData"

type InitDataUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type InitDataClaims struct {
	User     InitDataUser
	AuthDate time.Time
	QueryID  string
}

// VerifyInitData authenticates a signed Telegram WebApp initData string
// against the bot token. The data-check string is rebuilt from all
// pairs except "hash", sorted by key and joined by newline, and the
// supplied hash is compared in constant time. maxAge bounds the age of
// auth_date; maxAge <= 0 disables the age check.
func VerifyInitData(initData, botToken string, maxAge time.Duration) (*InitDataClaims, error) {
	if strings.TrimSpace(initData) == "" || strings.TrimSpace(botToken) == "" {
		return nil, ErrInvalidInitData
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrInvalidInitData
	}

	suppliedHash := values.Get("hash")
	if suppliedHash == "" {
		return nil, ErrInvalidInitData
	}
	values.Del("hash")

	suppliedSig, err := hex.DecodeString(strings.ToLower(suppliedHash))
	if err != nil {
		return nil, ErrInvalidInitData
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte(initDataKeyConstant))
	secretMac.Write([]byte(botToken))
	secretKey := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(dataCheckString))
	if !hmac.Equal(mac.Sum(nil), suppliedSig) {
		return nil, ErrInvalidInitData
	}

	authDateRaw := values.Get("auth_date")
	if authDateRaw == "" {
		return nil, ErrInvalidInitData
	}
	authUnix, err := strconv.ParseInt(authDateRaw, 10, 64)
	if err != nil || authUnix <= 0 {
		return nil, ErrInvalidInitData
	}
	authDate := time.Unix(authUnix, 0)
	if maxAge > 0 && time.Since(authDate) > maxAge {
		return nil, ErrInvalidInitData
	}

	claims := &InitDataClaims{
		AuthDate: authDate,
		QueryID:  values.Get("query_id"),
	}
	if rawUser := values.Get("user"); rawUser != "" {
		if err := json.Unmarshal([]byte(rawUser), &claims.User); err != nil {
			return nil, ErrInvalidInitData
		}
	}
	if claims.User.ID == 0 {
		return nil, ErrInvalidInitData
	}
	return claims, nil
}
