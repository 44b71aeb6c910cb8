package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/config"
)

func TestParseParamFlags(t *testing.T) {
	p, err := parseParamFlags("cat:x", []string{"fq=price:[0 TO 5]", "fq=cat:*", "sort=price asc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Get("q") != "cat:x" {
		t.Errorf("expected q from the argument, got %q", p.Get("q"))
	}
	if len(p.GetAll("fq")) != 2 {
		t.Errorf("expected repeated fq, got %v", p.GetAll("fq"))
	}
	if p.Get("sort") != "price asc" {
		t.Errorf("value must keep spaces, got %q", p.Get("sort"))
	}

	if _, err := parseParamFlags("", []string{"rows"}); err == nil {
		t.Error("expected error for a parameter without '='")
	}
}

func TestLoadShards_KeepsConfiguredOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}
	cfg := config.Config{
		Coordinator: config.CoordinatorConfig{UniqueKey: "id"},
		Shards: []config.ShardConfig{
			{Name: "b", Docs: write("b.jsonl", `{"id":"1"}`+"\n"+`{"id":"2"}`)},
			{Name: "a", Docs: write("a.jsonl", `{"id":"3"}`)},
			{Name: "empty"},
		},
	}

	shards, err := loadShards(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shards[0].Name != "b" || shards[1].Name != "a" || shards[2].Name != "empty" {
		t.Errorf("unexpected order: %v %v %v", shards[0].Name, shards[1].Name, shards[2].Name)
	}
	if shards[0].Core.NumDocs() != 2 || shards[2].Core.NumDocs() != 0 {
		t.Errorf("unexpected doc counts")
	}

	cfg.Shards = append(cfg.Shards, config.ShardConfig{Name: "bad", Docs: write("bad.jsonl", "{")})
	_, err = loadShards(cfg, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "shard bad") {
		t.Errorf("expected error naming the shard, got %v", err)
	}
}
