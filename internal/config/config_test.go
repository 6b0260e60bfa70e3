package config

import (
	"testing"
	"time"
)

func TestLoadRequiresEthRPC(t *testing.T) {
	t.Setenv("ALCHEMY_ETH_URL", "")
	t.Setenv("ALCHEMY_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without ALCHEMY_ETH_URL or ALCHEMY_API_KEY")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ALCHEMY_API_KEY", "testkey")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EthRPCURL != "https://eth-mainnet.g.alchemy.com/v2/testkey" {
		t.Errorf("EthRPCURL = %q", cfg.EthRPCURL)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.ChunkSize != 2000 {
		t.Errorf("ChunkSize = %d", cfg.ChunkSize)
	}
	if cfg.PriceBucket != 24*time.Hour {
		t.Errorf("PriceBucket = %v", cfg.PriceBucket)
	}
}

func TestExplicitURLBeatsAPIKey(t *testing.T) {
	t.Setenv("ALCHEMY_ETH_URL", "https://rpc.example.com")
	t.Setenv("ALCHEMY_API_KEY", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EthRPCURL != "https://rpc.example.com" {
		t.Errorf("EthRPCURL = %q", cfg.EthRPCURL)
	}
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("ALCHEMY_API_KEY", "testkey")
	t.Setenv("REQUEST_TIMEOUT", "30")
	t.Setenv("ADAPTER_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.AdapterTimeout != 2*time.Minute {
		t.Errorf("AdapterTimeout = %v", cfg.AdapterTimeout)
	}
}
