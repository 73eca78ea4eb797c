package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evvm-network/settlement_layer/internal/app"
	"github.com/evvm-network/settlement_layer/internal/config"
	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage/memory"
)

func testConfig() config.InstanceConfig {
	return config.InstanceConfig{
		ID:            "evvm-test",
		Treasury:      "0x00000000000000000000000000000000000000aa",
		StakeRegistry: "0x00000000000000000000000000000000000000bb",
		Admin:         "0x00000000000000000000000000000000000000cc",
		BaseReward:    1000,
		EraThreshold:  2000000,
	}
}

// faultyMetadataStore simulates a store that is reachable but failing, which
// must abort startup rather than pass for a fresh instance.
type faultyMetadataStore struct {
	readErr error
	puts    int
}

func (s *faultyMetadataStore) GetMetadata(context.Context) (ledger.Metadata, error) {
	return ledger.Metadata{}, s.readErr
}

func (s *faultyMetadataStore) PutMetadata(context.Context, ledger.Metadata) error {
	s.puts++
	return nil
}

func TestNewSeedsFreshMetadata(t *testing.T) {
	mem := memory.New()
	if _, err := app.New(testConfig(), app.Stores{Metadata: mem}, nil); err != nil {
		t.Fatalf("new: %v", err)
	}

	meta, err := mem.GetMetadata(context.Background())
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.InstanceID != "evvm-test" || meta.BaseReward != 1000 || meta.NextEraAt != 2000000 {
		t.Fatalf("unexpected seeded metadata: %+v", meta)
	}
}

func TestNewKeepsExistingMetadata(t *testing.T) {
	mem := memory.New()
	existing := ledger.Metadata{
		InstanceID:  "evvm-test",
		BaseReward:  500,
		Era:         3,
		TotalMinted: 4200,
		NextEraAt:   16000000,
	}
	if err := mem.PutMetadata(context.Background(), existing); err != nil {
		t.Fatalf("put metadata: %v", err)
	}

	if _, err := app.New(testConfig(), app.Stores{Metadata: mem}, nil); err != nil {
		t.Fatalf("new: %v", err)
	}

	meta, err := mem.GetMetadata(context.Background())
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta != existing {
		t.Fatalf("live metadata was overwritten: %+v", meta)
	}
}

func TestNewFailingMetadataStoreAbortsStartup(t *testing.T) {
	boom := errors.New("connection refused")
	store := &faultyMetadataStore{readErr: boom}

	_, err := app.New(testConfig(), app.Stores{Metadata: store}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("failing store was reseeded %d times", store.puts)
	}
}
