package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	superagent "github.com/superagent-core/superagent"
)

func allowAll() *superagent.Policy {
	return superagent.NewPolicy(superagent.AllowDomains("*"))
}

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>T</title></head><body>
			<article><h1>Heading</h1><p>The quick brown fox jumps over the lazy dog.
			This paragraph carries the actual article content for extraction.</p></article>
		</body></html>`))
	}))
	defer srv.Close()

	tool := New(allowAll())
	res, err := tool.Execute(context.Background(), "web_fetch",
		json.RawMessage(`{"url":"`+srv.URL+`"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Content, "quick brown fox") {
		t.Errorf("content = %q", res.Content)
	}
	if strings.Contains(res.Content, "<p>") {
		t.Errorf("content still contains markup: %q", res.Content)
	}
}

func TestFetchDeniedDomain(t *testing.T) {
	policy := superagent.NewPolicy(superagent.AllowDomains("example.com"))
	tool := New(policy)

	res, err := tool.Execute(context.Background(), "web_fetch",
		json.RawMessage(`{"url":"https://evil.test/page"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error == "" || !strings.Contains(res.Error, "not allowed") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestFetchSubdomainAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>ok</p></body></html>"))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	policy := superagent.NewPolicy(superagent.AllowDomains(u.Hostname()))
	tool := New(policy)

	if _, err := tool.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := New(allowAll())
	_, err := tool.Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	tool := New(allowAll())
	if _, err := tool.Fetch(context.Background(), "not a url"); err == nil {
		t.Error("want error for invalid URL")
	}
}

func TestStripHTML(t *testing.T) {
	html := `<html><script>var x = 1;</script><body><h1>Title</h1>
	<p>Body &amp; more</p><style>p{}</style></body></html>`
	got := stripHTML(html)
	if strings.Contains(got, "var x") || strings.Contains(got, "p{}") {
		t.Errorf("script/style leaked: %q", got)
	}
	if !strings.Contains(got, "Body & more") {
		t.Errorf("entities not decoded: %q", got)
	}
}
