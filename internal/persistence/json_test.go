package persistence

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Processed: 5,
		Total:     7,
		Groups: map[string][]string{
			"A": {"a1", "a2"},
			"B": {"b1"},
		},
		Others: []string{"o1", "o2"},
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewJSONStore(fs, "/data/scanData.json")
	ctx := context.Background()

	want := sampleSnapshot()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("Load() = %+v, want %+v", *got, want)
	}
}

func TestJSONStoreOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewJSONStore(fs, "/data/scanData.json")
	ctx := context.Background()

	if err := store.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	second := Snapshot{Processed: 1, Total: 1, Others: []string{"only"}}
	if err := store.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Processed != 1 || len(got.Groups) != 0 || len(got.Others) != 1 {
		t.Errorf("Load() = %+v, want the second snapshot", *got)
	}

	entries, _ := afero.ReadDir(fs, "/data")
	if len(entries) != 1 {
		t.Errorf("data dir has %d entries, want only the snapshot", len(entries))
	}
}

func TestJSONStoreLoadMissing(t *testing.T) {
	store := NewJSONStore(afero.NewMemMapFs(), "/data/scanData.json")
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Load() error = %v, want ErrNoSnapshot", err)
	}
	if errors.Is(err, ErrCorruptSnapshot) {
		t.Error("a missing snapshot should not be reported as corrupt")
	}
}

func TestJSONStoreLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "not json at all"},
		{"truncated", `{"processed": 3, "groups": {"A": ["x"`},
		{"negative", `{"processed": -1, "total": 2}`},
		{"wrong type", `{"processed": "three"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, "/data/scanData.json", []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			store := NewJSONStore(fs, "/data/scanData.json")

			snap, err := store.Load(context.Background())
			if snap != nil {
				t.Errorf("Load() = %+v, want nil", snap)
			}
			if !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("Load() error = %v, want ErrCorruptSnapshot", err)
			}
			if !errors.Is(err, ErrNoSnapshot) {
				t.Error("corrupt snapshots should also match ErrNoSnapshot")
			}
		})
	}
}

func TestJSONStoreWireFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewJSONStore(fs, "/scanData.json")
	if err := store.Save(context.Background(), Snapshot{
		Processed: 1,
		Total:     2,
		Groups:    map[string][]string{"A": {"x"}},
		Others:    []string{},
	}); err != nil {
		t.Fatal(err)
	}

	data, _ := afero.ReadFile(fs, "/scanData.json")
	want := `{"processed":1,"total":2,"groups":{"A":["x"]},"others":[]}`
	if string(data) != want {
		t.Errorf("file = %s, want %s", data, want)
	}
}

func TestSnapshotIdentifiers(t *testing.T) {
	s := sampleSnapshot()
	if got := s.Identifiers(); got != 5 {
		t.Errorf("Identifiers() = %d, want 5", got)
	}
}
