package infra

import "testing"

func TestExtractMarker(t *testing.T) {
	query := "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker error: %v", err)
	}
	if marker != "4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatal("expected error for query without marker")
	}
	if _, _, err := extractMarker("   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
