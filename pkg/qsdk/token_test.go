package qsdk

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func TestTokenStorage(t *testing.T) {
	keyring.MockInit()

	if token, err := LoadToken("https://sim-host:3000"); err != nil || token != "" {
		t.Fatalf("Expected no token, got %q, %v", token, err)
	}

	if err := SaveToken("https://SIM-HOST:3000/", "abc"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	token, err := LoadToken("https://sim-host:3000")
	if err != nil || token != "abc" {
		t.Errorf("Expected normalized lookup to find token, got %q, %v", token, err)
	}

	cfg := &Config{Remote: RemoteConfig{URL: "https://sim-host:3000"}}
	if got, _ := cfg.RemoteToken(); got != "abc" {
		t.Errorf("Expected keyring token, got %q", got)
	}
	cfg.Remote.Token = "from-config"
	if got, _ := cfg.RemoteToken(); got != "from-config" {
		t.Errorf("Expected config token to win, got %q", got)
	}

	if err := DeleteToken("https://sim-host:3000"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if err := DeleteToken("https://sim-host:3000"); err != nil {
		t.Errorf("Expected deleting a missing token to succeed, got %v", err)
	}
}
