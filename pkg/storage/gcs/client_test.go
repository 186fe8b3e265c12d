package gcs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNilClientGuards(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error on nil client")
	}
	if _, err := c.Upload(context.Background(), "k", "text/csv", strings.NewReader("x")); err == nil {
		t.Fatalf("expected upload error on nil client")
	}
	if _, err := c.SignedURL("k", time.Minute); err == nil {
		t.Fatalf("expected signed url error on nil client")
	}
	if c.Bucket() != "" {
		t.Fatalf("nil client has no bucket")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestSignedURLRequiresKey(t *testing.T) {
	c := &Client{}
	if _, err := c.SignedURL(" ", time.Minute); err == nil {
		t.Fatalf("expected error")
	}
}
