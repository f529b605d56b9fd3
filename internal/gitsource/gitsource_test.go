package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestLocalPath(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected string
	}{
		{"HTTPS", "https://github.com/owner/lessons.git", filepath.Join("repos", "github.com", "owner", "lessons")},
		{"HTTPS without suffix", "https://gitlab.com/team/sub/lessons", filepath.Join("repos", "gitlab.com", "team", "sub", "lessons")},
		{"SCP-like", "git@github.com:owner/lessons.git", filepath.Join("repos", "github.com", "owner", "lessons")},
		{"SSH scheme", "ssh://git@host.example/owner/lessons.git", filepath.Join("repos", "host.example", "owner", "lessons")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LocalPath("repos", tc.url)
			if err != nil {
				t.Fatalf("LocalPath() returned an unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected %q, but got %q", tc.expected, got)
			}
		})
	}

	if _, err := LocalPath("repos", "not a url"); err == nil {
		t.Error("Expected an error for an unparseable URL")
	}
}

func TestIsURL(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"https://github.com/owner/lessons.git", true},
		{"git@github.com:owner/lessons.git", true},
		{"ssh://git@host/owner/lessons.git", true},
		{"/home/me/lessons", false},
		{"lessons", false},
		{"file:///tmp/lessons", false},
	}
	for _, tc := range testCases {
		if got := IsURL(tc.path); got != tc.expected {
			t.Errorf("IsURL(%q): expected %v, but got %v", tc.path, tc.expected, got)
		}
	}
}

func TestSyncClonesThenPulls(t *testing.T) {
	upstream := t.TempDir()
	repo, err := git.PlainInit(upstream, false)
	if err != nil {
		t.Fatal(err)
	}
	commit := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(upstream, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatal(err)
		}
		_, err = wt.Commit("add "+name, &git.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	commit("one.md", "# One\nS: football\nQ: Q?\nA: a\n")

	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "clone")
	if err := Sync(ctx, upstream, local, nil); err != nil {
		t.Fatalf("Sync() clone returned an unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(local, "one.md")); err != nil {
		t.Errorf("Expected one.md in the clone: %v", err)
	}

	if err := Sync(ctx, upstream, local, nil); err != nil {
		t.Fatalf("Sync() on an up-to-date clone returned an unexpected error: %v", err)
	}

	commit("two.md", "# Two\nS: football\nQ: Q?\nA: b\n")
	if err := Sync(ctx, upstream, local, nil); err != nil {
		t.Fatalf("Sync() pull returned an unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(local, "two.md")); err != nil {
		t.Errorf("Expected two.md after pulling: %v", err)
	}
}
