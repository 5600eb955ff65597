package migrations

import (
	"context"
	"testing"

	"github.com/deicod/catalog/orm/migrate"
)

func TestEmbeddedMigrationsDiscoverable(t *testing.T) {
	migs, err := migrate.Discover(context.Background(), FS, ".")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("expected up and down script, got %+v", migs)
	}
	var up, down bool
	for _, m := range migs {
		if m.Version != "0001" {
			t.Fatalf("unexpected version %q", m.Version)
		}
		switch m.Type {
		case migrate.MigrationTypeUp:
			up = true
		case migrate.MigrationTypeDown:
			down = true
		}
	}
	if !up || !down {
		t.Fatalf("missing direction: up=%v down=%v", up, down)
	}
}
