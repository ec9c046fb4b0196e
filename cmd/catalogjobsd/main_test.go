package main

import "testing"

func TestOpenStoresDefaultsToMemory(t *testing.T) {
	gw, bs, err := openStores("")
	if err != nil {
		t.Fatalf("openStores(\"\") returned error: %v", err)
	}
	if gw == nil || bs == nil {
		t.Fatal("openStores(\"\") returned a nil gateway or batch store")
	}
}

func TestOpenStoresRejectsUnsupportedScheme(t *testing.T) {
	_, _, err := openStores("sqlite:///tmp/catalog.db")
	if err == nil {
		t.Fatal("expected an error for an unsupported DSN scheme")
	}
}

// A postgres:// DSN path is not exercised here or by any other test in the
// repository — NewPostgresStore pings the DB during construction, so it
// needs a real server to test against.
