package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
)

func TestDecodeFields(t *testing.T) {
	fields, err := decodeFields([]byte(`{"cnes":"2077485","leitos":120,"especialidades":["cardiologia","pediatria"]}`))
	if err != nil {
		t.Fatalf("decodeFields error = %v", err)
	}
	if n, ok := fields["leitos"].(json.Number); !ok || n.String() != "120" {
		t.Errorf("leitos = %#v, want json.Number 120", fields["leitos"])
	}
	list, ok := fields["especialidades"].([]string)
	if !ok || len(list) != 2 || list[1] != "pediatria" {
		t.Errorf("especialidades = %#v", fields["especialidades"])
	}
	if _, err := decodeFields([]byte(`[1,2]`)); err == nil {
		t.Error("decodeFields accepted a JSON array")
	}
}

// TestStore_RoundTrip runs against a real database when
// TEST_DATABASE_URL is set.
func TestStore_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, PoolOptions{MaxConns: 2})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `DELETE FROM ingested_records WHERE natural_key = '2077485'`); err != nil {
		t.Fatal(err)
	}

	h := core.NewRecord(core.DomainHospital, "row 2")
	h.Set("cnes", "2077485")
	h.Set("nome", "Hospital Central")
	h.Set("telefone", "1133334444")

	res, err := s.Persist(ctx, []*core.Record{h})
	if err != nil || res.Inserted != 1 {
		t.Fatalf("Persist = %+v, %v", res, err)
	}

	update := core.NewRecord(core.DomainHospital, "row 3")
	update.Set("cnes", "2077485")
	update.Set("nome", "Hospital Central SA")
	res, err = s.Persist(ctx, []*core.Record{update})
	if err != nil || res.Updated != 1 {
		t.Fatalf("Persist = %+v, %v", res, err)
	}

	got, err := s.FindExistingByNaturalKey(ctx, core.DomainHospital, "2077485")
	if err != nil || got == nil {
		t.Fatalf("FindExistingByNaturalKey = %v, %v", got, err)
	}
	if got.Record.Get("nome") != "Hospital Central SA" || got.Record.Get("telefone") != "1133334444" {
		t.Errorf("merged fields = %v", got.Record.Fields)
	}
}
