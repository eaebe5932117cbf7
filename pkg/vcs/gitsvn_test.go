package vcs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestParseSvnRemote(t *testing.T) {
	tests := map[string]struct {
		remote   string
		wantURL  string
		wantOpts []string
	}{
		"plain": {
			remote:  "https://svn.example.org/repo",
			wantURL: "https://svn.example.org/repo",
		},
		"full layout": {
			remote:   "https://svn.example.org/repo;trunk=trunk;tags=tags;branches=branches",
			wantURL:  "https://svn.example.org/repo",
			wantOpts: []string{"-T", "trunk", "-t", "tags", "-b", "branches"},
		},
		"unknown option ignored": {
			remote:   "https://svn.example.org/repo;trunk=main;colour=blue",
			wantURL:  "https://svn.example.org/repo",
			wantOpts: []string{"-T", "main"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := parseSvnRemote(tc.remote)
			if got.url != tc.wantURL {
				t.Errorf("url = %q, want %q", got.url, tc.wantURL)
			}
			if !reflect.DeepEqual(got.opts, tc.wantOpts) {
				t.Errorf("opts = %v, want %v", got.opts, tc.wantOpts)
			}
		})
	}
}

func TestValidateRemote(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		wantErr string
	}{
		"ok": {
			handler: func(w http.ResponseWriter, r *http.Request) {},
		},
		"https redirect": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "https://svn.example.org/elsewhere", http.StatusMovedPermanently)
			},
		},
		"downgrade redirect": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "http://svn.example.org/elsewhere", http.StatusFound)
			},
			wantErr: "Invalid redirect to non-HTTPS",
		},
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: "pre-validation failed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewTLSServer(tc.handler)
			defer srv.Close()

			client := srv.Client()
			client.CheckRedirect = func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}

			err := validateRemote(context.Background(), client, srv.URL+"/repo")
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validateRemote() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("validateRemote() error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateRemoteRejectsPlainHTTP(t *testing.T) {
	err := validateRemote(context.Background(), http.DefaultClient, "http://svn.example.org/repo")
	var vcsErr *Error
	if !errors.As(err, &vcsErr) || !strings.Contains(vcsErr.Msg, "HTTPS must be used") {
		t.Fatalf("validateRemote() error = %v", err)
	}
}

func TestValidateRemoteUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	// The default client does not trust the test server's certificate.
	err := validateRemote(context.Background(), &http.Client{}, srv.URL)
	if err == nil || !strings.Contains(err.Error(), "pre-validation failed") {
		t.Fatalf("validateRemote() error = %v, want certificate failure", err)
	}
}

func TestGitSvnCloneRejectsHTTPBeforeRunningGit(t *testing.T) {
	h, err := New(GitSvn, "http://svn.example.org/repo;trunk=trunk", t.TempDir()+"/app", nil)
	if err != nil {
		t.Fatal(err)
	}

	// A nil runner would panic if the clone got as far as git.
	err = h.GotoRevision(context.Background(), "", true)
	if err == nil || !strings.Contains(err.Error(), "HTTPS must be used") {
		t.Fatalf("GotoRevision() error = %v", err)
	}
	if !h.CloneFailed() {
		t.Error("CloneFailed() = false")
	}
}

func TestUnsupportedCapabilities(t *testing.T) {
	ctx := context.Background()
	tests := map[string]struct {
		call func(h *Handle) error
		kind Kind
	}{
		"git-svn submodules":  {kind: GitSvn, call: func(h *Handle) error { return h.InitSubmodules(ctx) }},
		"git-svn latest tags": {kind: GitSvn, call: func(h *Handle) error { _, err := h.LatestTags(ctx); return err }},
		"hg submodules":       {kind: Hg, call: func(h *Handle) error { return h.InitSubmodules(ctx) }},
		"hg ref":              {kind: Hg, call: func(h *Handle) error { _, err := h.Ref(ctx); return err }},
		"bzr latest tags":     {kind: Bzr, call: func(h *Handle) error { _, err := h.LatestTags(ctx); return err }},
		"bzr ref":             {kind: Bzr, call: func(h *Handle) error { _, err := h.Ref(ctx); return err }},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h, err := New(tc.kind, "https://example.org/repo", t.TempDir(), nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := tc.call(h); !errors.Is(err, ErrNotSupported) {
				t.Errorf("error = %v, want ErrNotSupported", err)
			}
		})
	}
}

func TestParseBzrTags(t *testing.T) {
	out := "1.0                  12\nrelease-2.0          40\n"
	if got, want := parseBzrTags(out), []string{"1.0", "release-2.0"}; !reflect.DeepEqual(got, want) {
		t.Errorf("parseBzrTags() = %v, want %v", got, want)
	}
}
