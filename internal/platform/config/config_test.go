package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "daigou-dev",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "daigou-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Orders.NumberPrefix != defaultOrderNumberPrefix {
		t.Errorf("expected default order number prefix, got %s", cfg.Orders.NumberPrefix)
	}
	if cfg.Inventory.DefaultLowStockThreshold != defaultLowStockThreshold {
		t.Errorf("unexpected default low stock threshold: %d", cfg.Inventory.DefaultLowStockThreshold)
	}
	if cfg.Cashbook.HomeCurrency != "KRW" {
		t.Errorf("expected default home currency KRW, got %s", cfg.Cashbook.HomeCurrency)
	}
	if cfg.Cashbook.CnyKrwRate != defaultCnyKrwRate {
		t.Errorf("unexpected default fx rate: %f", cfg.Cashbook.CnyKrwRate)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_READ_TIMEOUT":          "20s",
		"API_SERVER_WRITE_TIMEOUT":         "25s",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIRESTORE_PROJECT_ID":         "daigou-prod",
		"API_FIRESTORE_EMULATOR_HOST":      "localhost:8200",
		"API_PUBSUB_PROJECT_ID":            "daigou-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"API_PUBSUB_LOW_STOCK_TOPIC":       "low-stock-alerts",
		"API_ORDERS_NUMBER_PREFIX":         "SO",
		"API_INVENTORY_LOW_STOCK_THRESHOLD": "10",
		"API_CASHBOOK_HOME_CURRENCY":       "krw",
		"API_CASHBOOK_CNY_KRW_RATE":        "192.5",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8200" {
		t.Errorf("unexpected emulator host: %s", cfg.Firestore.EmulatorHost)
	}
	if cfg.PubSub.ProjectID != "daigou-events" {
		t.Errorf("unexpected pubsub project: %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != "order-events" {
		t.Errorf("unexpected order events topic: %s", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.Orders.NumberPrefix != "SO" {
		t.Errorf("unexpected order number prefix: %s", cfg.Orders.NumberPrefix)
	}
	if cfg.Inventory.DefaultLowStockThreshold != 10 {
		t.Errorf("unexpected low stock threshold: %d", cfg.Inventory.DefaultLowStockThreshold)
	}
	if cfg.Cashbook.HomeCurrency != "KRW" {
		t.Errorf("expected home currency normalised to KRW, got %s", cfg.Cashbook.HomeCurrency)
	}
	if cfg.Cashbook.CnyKrwRate != 192.5 {
		t.Errorf("unexpected fx rate: %f", cfg.Cashbook.CnyKrwRate)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header: %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_CASHBOOK_HOME_CURRENCY": "USD",
		"API_CASHBOOK_CNY_KRW_RATE":  "-1",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := verr.Fields()
	want := map[string]bool{
		"Firestore.ProjectID":   false,
		"Cashbook.CnyKrwRate":   false,
		"Cashbook.HomeCurrency": false,
	}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, fields)
		}
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_FIRESTORE_PROJECT_ID=daigou-local\nAPI_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "daigou-local" {
		t.Errorf("unexpected project id: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
}
