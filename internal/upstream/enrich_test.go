package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>Flood warning issued for Tigris</title></head>
<body>
<nav><a href="/">Home</a> | <a href="/news">News</a></nav>
<article>
<h1>Flood warning issued for Tigris</h1>
<p>The water ministry issued a flood warning on Sunday for towns along the Tigris river after heavy rainfall upstream raised water levels across several provinces.</p>
<p>Officials said emergency teams had been deployed to reinforce embankments and that residents in low lying districts should follow instructions from civil defence units over the coming days.</p>
<p>The ministry added that reservoirs north of the capital were being used to absorb part of the surge, and that the situation would be reviewed every six hours until levels fall.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestEnrich(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	items := []models.ContentItem{
		{ID: "1", Title: "needs body", Permalink: srv.URL + "/article"},
		{ID: "2", Title: "has body", Permalink: srv.URL + "/article", ContentText: "already here"},
		{ID: "3", Title: "placeholder link", Permalink: "#"},
		{ID: "4", Title: "broken link", Permalink: srv.URL + "/missing"},
	}

	NewEnricher(5*time.Second, zerolog.Nop()).Enrich(context.Background(), items)

	if !strings.Contains(items[0].ContentText, "flood warning") {
		t.Errorf("body not extracted: %q", items[0].ContentText)
	}
	if strings.Contains(items[0].ContentText, "\n") {
		t.Error("extracted body should be whitespace-normalised")
	}
	if items[1].ContentText != "already here" {
		t.Errorf("existing body overwritten: %q", items[1].ContentText)
	}
	if items[2].ContentText != "" || items[3].ContentText != "" {
		t.Error("items without a usable page should stay untouched")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("fetched %d pages, want 2", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("بغداد اليوم", 5); got != "بغداد…" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes() = %q", got)
	}
}
