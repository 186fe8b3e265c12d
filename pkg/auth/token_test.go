package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

var testAuthCfg = config.AuthConfig{SessionSecret: "secret", Issuer: "https://auth.shopdeck.test", ClockSkew: 5 * time.Second}

func TestMintAndParseSessionToken(t *testing.T) {
	token, err := MintSessionToken(testAuthCfg, time.Now(), time.Hour, SessionPayload{
		UserID: "user_2abc",
		Email:  "owner@example.com",
		Role:   enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseSessionToken(testAuthCfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID() != "user_2abc" || claims.Email != "owner@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ActorRole().IsAdmin() {
		t.Fatalf("expected admin role")
	}
}

func TestParseSessionTokenRejects(t *testing.T) {
	expired, err := MintSessionToken(testAuthCfg, time.Now().Add(-2*time.Hour), time.Hour, SessionPayload{UserID: "user_1"})
	if err != nil {
		t.Fatalf("mint expired: %v", err)
	}
	otherIssuer := testAuthCfg
	otherIssuer.Issuer = "https://evil.test"
	foreign, err := MintSessionToken(otherIssuer, time.Now(), time.Hour, SessionPayload{UserID: "user_1"})
	if err != nil {
		t.Fatalf("mint foreign: %v", err)
	}
	wrongKey := testAuthCfg
	wrongKey.SessionSecret = "other"
	forged, err := MintSessionToken(wrongKey, time.Now(), time.Hour, SessionPayload{UserID: "user_1"})
	if err != nil {
		t.Fatalf("mint forged: %v", err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1", Issuer: testAuthCfg.Issuer},
	}).SignedString([]byte(testAuthCfg.SessionSecret))
	if err != nil {
		t.Fatalf("sign no-exp: %v", err)
	}

	for name, token := range map[string]string{
		"expired": expired, "issuer": foreign, "signature": forged, "no exp": noExp, "garbage": "abc.def.ghi",
	} {
		if _, err := ParseSessionToken(testAuthCfg, token); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestCustomerTokenRoundTrip(t *testing.T) {
	cfg := config.DownloadsConfig{TokenSecret: "dl-secret", TokenIssuer: "shopdeck-downloads"}
	downloadID, orderID := uuid.New(), uuid.New()
	now := time.Now()

	tokenID := uuid.New()
	payload := CustomerTokenPayload{DownloadID: downloadID, OrderID: orderID, TokenID: tokenID, Email: "buyer@example.com"}

	token, err := MintCustomerToken(cfg, now, now.Add(24*time.Hour), payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := ParseCustomerToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.DownloadID != downloadID || claims.OrderID != orderID || claims.Email != "buyer@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID != tokenID.String() {
		t.Fatalf("expected jti %s got %s", tokenID, claims.ID)
	}

	if _, err := MintCustomerToken(cfg, now, now.Add(-time.Minute), payload); err == nil {
		t.Fatalf("expected past expiry to be rejected")
	}
	if _, err := MintCustomerToken(cfg, now, now.Add(time.Hour), CustomerTokenPayload{DownloadID: downloadID, OrderID: orderID}); err == nil {
		t.Fatalf("expected missing token id to be rejected")
	}
	if _, err := ParseCustomerToken(config.DownloadsConfig{TokenSecret: "other", TokenIssuer: cfg.TokenIssuer}, token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}
