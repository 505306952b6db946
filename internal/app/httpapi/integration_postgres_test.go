//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/settlement_layer/internal/app/services/settlement"
	"github.com/R3E-Network/settlement_layer/internal/app/services/verifier"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/settlement_layer/internal/config"
	"github.com/R3E-Network/settlement_layer/internal/logging"
	"github.com/R3E-Network/settlement_layer/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations + settlement flows work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Up(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := postgres.New(db)
	pv := verifier.New(verifier.Config{AllowMock: true}, store, logging.NewNop())
	svc, err := settlement.New(store, memory.NewGuard(), pv, config.DefaultEconomy(), settlement.Options{
		ClaimEpoch: time.Now().UTC().Add(-time.Hour),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h, closer, err := NewHandler(svc, Options{Log: logging.NewNop()})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	defer closer()
	s := &testServer{handler: h}

	wallet := "it-" + uuid.NewString()
	tx := "mock_" + uuid.NewString()

	resp := s.do(t, http.MethodPost, "/verify-payment", map[string]any{"wallet": wallet, "tx_id": tx})
	expectStatus(t, resp, http.StatusOK)
	resp = s.do(t, http.MethodPost, "/verify-payment", map[string]any{"wallet": wallet, "tx_id": tx})
	expectStatus(t, resp, http.StatusConflict)

	resp = s.do(t, http.MethodPost, "/open-pack", map[string]any{"wallet": wallet, "pack_type": "standard", "quantity": 2})
	expectStatus(t, resp, http.StatusOK)
	if bonds := decode(t, resp)["balance"].(map[string]any)["bonds"].(float64); bonds != 0 {
		t.Fatalf("expected bonds spent, got %v", bonds)
	}

	resp = s.do(t, http.MethodGet, "/accounts/"+wallet+"/balances", nil)
	expectStatus(t, resp, http.StatusOK)
	if units := decode(t, resp)["units"].([]any); len(units) != 5 {
		t.Fatalf("expected 5 units, got %d", len(units))
	}

	resp = s.do(t, http.MethodGet, "/audit/ledger?account="+wallet+"&kind=pack_spend", nil)
	expectStatus(t, resp, http.StatusOK)
	if entries := decode(t, resp)["entries"].([]any); len(entries) != 1 {
		t.Fatalf("expected one pack_spend entry, got %d", len(entries))
	}
}
