package config_test

import (
	"testing"
	"time"

	"github.com/rgbtools/refreshd/config"
)

func validConfig() *config.Config {
	return &config.Config{
		PostgresURL:         "postgres://localhost/refreshd",
		DurationRcvTransfer: time.Hour,
		MaxWalletProcesses:  50,
		MaxRefreshRetries:   10,
	}
}

func TestValidateRequiresPostgresURL(t *testing.T) {
	c := validConfig()
	c.PostgresURL = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when postgres.url is unset")
	}
}

func TestValidateRequiresDurationRcvTransfer(t *testing.T) {
	c := validConfig()
	c.DurationRcvTransfer = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when transfer.durationrcvtransfer is unset, since the spec says not to guess it")
	}
}

func TestValidateRejectsNonPositiveMaxWalletProcesses(t *testing.T) {
	c := validConfig()
	c.MaxWalletProcesses = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a zero wallet-process cap")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}
