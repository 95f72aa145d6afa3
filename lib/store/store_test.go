package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stagectl/lib/show"
)

func setupTest(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "shows"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := setupTest(t)
	ctx := context.Background()

	s := show.GenerateMockShow([]string{"a", "b"}, 2, 2, 1)
	if err := fs.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != s.Name || len(got.Scenes) != 2 || len(got.MIDIMappings) != len(s.MIDIMappings) {
		t.Errorf("loaded show differs: %+v", got)
	}
}

func TestFileStoreList(t *testing.T) {
	fs := setupTest(t)
	ctx := context.Background()

	older := show.NewShow("Older")
	older.UpdatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := show.NewShow("Newer")
	newer.UpdatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []*show.Show{older, newer} {
		if err := fs.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(fs.dir, "notes.txt"), []byte("ignored"), 0o644)

	list, err := fs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d shows, want 2", len(list))
	}
	if list[0].Name != "Newer" {
		t.Errorf("got %q first, want most recently updated", list[0].Name)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	fs := setupTest(t)
	ctx := context.Background()

	if _, err := fs.Load(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := fs.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	fs := setupTest(t)
	ctx := context.Background()
	s := show.NewShow("Gone")
	fs.Save(ctx, s)

	if err := fs.Delete(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFileStoreRejectsPathIDs(t *testing.T) {
	fs := setupTest(t)
	s := show.NewShow("Sneaky")
	s.ID = "../escape"
	if err := fs.Save(context.Background(), s); err == nil {
		t.Error("expected id with path separator to be rejected")
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	fs := setupTest(t)
	fs.Save(context.Background(), show.NewShow("One"))

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d files, want 1", len(entries))
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("STAGECTL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STAGECTL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	table := "shows_test_" + time.Now().Format("150405")
	ps, err := NewPostgresStore(ctx, dsn, table)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ps.db.Exec("DROP TABLE " + ps.table)
		ps.Close()
	})

	s := show.GenerateMockShow([]string{"a"}, 1, 1, 1)
	if err := ps.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.Name = "Renamed"
	if err := ps.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, err := ps.Load(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" {
		t.Errorf("got %q, want %q", got.Name, "Renamed")
	}
	list, err := ps.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("got %v, %v", list, err)
	}
	if err := ps.Delete(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.Load(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
