package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog fixture: %v", err)
	}
	return path
}

func TestLoadValidCatalog(t *testing.T) {
	path := writeCatalog(t, `[
		{"id":"p1","name":"Mint Toothpaste","description":"fluoride toothpaste","price":3.5,"image_url":"images/p1.jpg","category":"personal care","tags":["toothpaste"]},
		{"id":"p2","name":"Red T-Shirt","description":"red cotton t-shirt","price":12.0,"image_url":"images/p2.jpg","category":"apparel","tags":["t-shirt","red","cotton"]}
	]`)

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 products, got %d", store.Len())
	}

	all := store.All()
	if all[0].ID != "p1" || all[1].ID != "p2" {
		t.Fatalf("load order not preserved: %v", all)
	}

	if _, ok := store.FindByID("p2"); !ok {
		t.Fatal("expected to find p2")
	}
	if _, ok := store.FindByID("missing"); ok {
		t.Fatal("did not expect to find missing product")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeCatalog(t, `{"not":"a list"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed catalog")
	}
}

func TestLoadDuplicateID(t *testing.T) {
	path := writeCatalog(t, `[
		{"id":"p1","name":"A","description":"a","price":1,"image_url":"","category":"","tags":[]},
		{"id":"p1","name":"B","description":"b","price":2,"image_url":"","category":"","tags":[]}
	]`)
	_, err := Load(path)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeCatalog(t, `[{"name":"No ID","description":"x","price":1,"image_url":"","category":"","tags":[]}]`)
	_, err := Load(path)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestLoadNegativePrice(t *testing.T) {
	path := writeCatalog(t, `[{"id":"p1","name":"Bad","description":"x","price":-1,"image_url":"","category":"","tags":[]}]`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	store := NewStore([]Product{{ID: "p1", Name: "A"}})
	all := store.All()
	all[0].Name = "mutated"

	if got := store.All()[0].Name; got != "A" {
		t.Fatalf("catalog mutated through All(): %s", got)
	}
}
