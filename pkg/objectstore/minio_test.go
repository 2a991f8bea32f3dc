package objectstore

import (
	"errors"
	"testing"

	"trancheflow/pkg/config"
)

func TestRefRoundTrip(t *testing.T) {
	ref := FormatRef("evidence", "evidence/p1/m1/abc")
	if ref != "s3://evidence/evidence/p1/m1/abc" {
		t.Fatalf("FormatRef() = %q", ref)
	}
	bucket, key, err := ParseRef(ref)
	if err != nil {
		t.Fatalf("ParseRef() err=%v", err)
	}
	if bucket != "evidence" || key != "evidence/p1/m1/abc" {
		t.Fatalf("ParseRef() = %q %q", bucket, key)
	}
}

func TestParseRef_Invalid(t *testing.T) {
	for _, ref := range []string{"", "http://x/y", "s3://bucket", "s3:///key", "s3://bucket/"} {
		if _, _, err := ParseRef(ref); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("ParseRef(%q) err=%v, want ErrInvalidRef", ref, err)
		}
	}
}

func TestNewMinioStore_Disabled(t *testing.T) {
	s, err := NewMinioStore(config.ObjectStoreConfig{})
	if err != nil || s != nil {
		t.Fatalf("expected nil store without endpoint, got %v %v", s, err)
	}
	if _, err := NewMinioStore(config.ObjectStoreConfig{Endpoint: "minio:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
