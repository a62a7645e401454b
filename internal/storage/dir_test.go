package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/your-org/facefinder/internal/models"
)

func TestDirStoreFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := s.Exists(ctx, "k.jpg"); ok {
		t.Fatal("Exists before Put")
	}
	if err := s.Put(ctx, "k.jpg", []byte("first"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k.jpg", []byte("second"), false); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "k.jpg")
	if string(got) != "first" {
		t.Errorf("Get = %q, want first", got)
	}

	if err := s.Put(ctx, "k.jpg", []byte("third"), true); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "k.jpg")
	if string(got) != "third" {
		t.Errorf("Get after overwrite = %q, want third", got)
	}
}

func TestDirStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := NewDirStore(dir)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(ctx, "same.jpg", []byte("payload"), false); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the artifact", len(entries))
	}
	got, _ := s.Get(ctx, "same.jpg")
	if string(got) != "payload" {
		t.Errorf("Get = %q", got)
	}
}

func TestDirStoreKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := NewDirStore(t.TempDir())

	if _, err := s.Get(ctx, "missing.jpg"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
	for _, key := range []string{"", "..", "../x.jpg", filepath.Join("a", "b.jpg")} {
		if err := s.Put(ctx, key, []byte("x"), false); err == nil {
			t.Errorf("Put(%q) accepted", key)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrNotFound", key, err)
		}
	}
}
