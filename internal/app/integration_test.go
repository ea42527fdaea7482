package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glabrego/feedtree/internal/display"
	"github.com/glabrego/feedtree/internal/downloader"
	"github.com/glabrego/feedtree/internal/storage"
	"github.com/glabrego/feedtree/internal/subscription"
)

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Integration</title>
  <link href="%s/"/>
  <updated>2026-01-02T03:04:05Z</updated>
  <id>urn:feed</id>
  <entry><id>urn:1</id><title>one</title><updated>2026-01-01T00:00:00Z</updated></entry>
  <entry><id>urn:2</id><title>two</title><updated>2026-01-02T00:00:00Z</updated></entry>
</feed>`

func TestIntegration_FetchThroughWorkerPool(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, fmtBody(srv.URL))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><head><link rel="icon" href="/i.png"></head></html>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "feedtree.db"), logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	pool := downloader.NewPool(downloader.NewHTTPFetcher(5*time.Second), 2, 4, logger)
	pool.Start(ctx)
	defer pool.Close()

	ctl := New(Deps{Store: repo, Queue: pool, Logger: logger, Options: Options{Display: display.Options{ShowAllCounts: true}}})
	if err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	feed, err := ctl.NewFeed(ctx, srv.URL+"/feed", "", subscription.RootID)
	if err != nil {
		t.Fatalf("NewFeed returned error: %v", err)
	}

	for {
		if err := ctl.Tick(ctx); err != nil {
			t.Fatalf("Tick returned error: %v", err)
		}
		row, ok := rowByID(ctl.Rows(), feed.ID)
		if ok && row.RightText == "2/2" && row.IconRef != "feed" {
			if row.Name != "Integration" {
				t.Fatalf("expected feed title as name, got %q", row.Name)
			}
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("feed never settled, last row: %+v", row)
		case <-time.After(20 * time.Millisecond):
		}
	}

	stored, err := repo.GetByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if stored.WebsiteURL != srv.URL+"/" {
		t.Fatalf("unexpected website url %q", stored.WebsiteURL)
	}
	if want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC); !stored.UpdatedExt.Equal(want) {
		t.Fatalf("unexpected feed update time %v", stored.UpdatedExt)
	}
}

func fmtBody(base string) string {
	return fmt.Sprintf(atomBody, base)
}
