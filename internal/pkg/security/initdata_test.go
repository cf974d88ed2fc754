package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

const testBotToken = "12345:test-bot-token"

func signInitData(t *testing.T, values url.Values, botToken string) string {
	t.Helper()

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

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(dataCheckString))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validInitData(t *testing.T, authDate time.Time) string {
	t.Helper()
	values := url.Values{}
	values.Set("user", `{"id":777000,"first_name":"Lexi","username":"lexi_fan"}`)
	values.Set("auth_date", fmt.Sprintf("%d", authDate.Unix()))
	values.Set("query_id", "AAE3b2xk")
	return signInitData(t, values, testBotToken)
}

func TestVerifyInitData_Valid(t *testing.T) {
	initData := validInitData(t, time.Now())

	claims, err := VerifyInitData(initData, testBotToken, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.User.ID != 777000 {
		t.Fatalf("unexpected user id: %d", claims.User.ID)
	}
	if claims.QueryID != "AAE3b2xk" {
		t.Fatalf("unexpected query id: %q", claims.QueryID)
	}
}

func TestVerifyInitData_MutatedPayloadFails(t *testing.T) {
	initData := validInitData(t, time.Now())

	// Flip a single byte anywhere in the payload.
	for _, i := range []int{0, len(initData) / 2, len(initData) - 1} {
		mutated := []byte(initData)
		mutated[i] ^= 0x01
		if _, err := VerifyInitData(string(mutated), testBotToken, time.Hour); err == nil {
			t.Fatalf("expected mutation at byte %d to fail verification", i)
		}
	}
}

func TestVerifyInitData_WrongToken(t *testing.T) {
	initData := validInitData(t, time.Now())
	if _, err := VerifyInitData(initData, "12345:other-token", time.Hour); err == nil {
		t.Fatal("expected wrong bot token to fail verification")
	}
}

func TestVerifyInitData_Expired(t *testing.T) {
	initData := validInitData(t, time.Now().Add(-2*time.Hour))
	if _, err := VerifyInitData(initData, testBotToken, time.Hour); err == nil {
		t.Fatal("expected expired auth_date to fail verification")
	}
	// maxAge <= 0 disables the age check.
	if _, err := VerifyInitData(initData, testBotToken, 0); err != nil {
		t.Fatalf("expected disabled age check to pass: %v", err)
	}
}

func TestVerifyInitData_MissingFields(t *testing.T) {
	values := url.Values{}
	values.Set("user", `{"id":777000}`)
	values.Set("auth_date", fmt.Sprintf("%d", time.Now().Unix()))
	unsigned := values.Encode()
	if _, err := VerifyInitData(unsigned, testBotToken, time.Hour); err == nil {
		t.Fatal("expected missing hash to fail verification")
	}

	noAuthDate := url.Values{}
	noAuthDate.Set("user", `{"id":777000}`)
	if _, err := VerifyInitData(signInitData(t, noAuthDate, testBotToken), testBotToken, time.Hour); err == nil {
		t.Fatal("expected missing auth_date to fail verification")
	}

	noUser := url.Values{}
	noUser.Set("auth_date", fmt.Sprintf("%d", time.Now().Unix()))
	if _, err := VerifyInitData(signInitData(t, noUser, testBotToken), testBotToken, time.Hour); err == nil {
		t.Fatal("expected missing user to fail verification")
	}

	if _, err := VerifyInitData("", testBotToken, time.Hour); err == nil {
		t.Fatal("expected empty init data to fail verification")
	}
}
