package service

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		version string
		suffix  string
		want    string
	}{
		{"root with slash", "https://api.example.com/", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"root without slash", "https://api.example.com", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"versioned", "https://api.example.com/v1", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"versioned trailing slashes", "https://api.example.com/v1///", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"already complete", "https://api.example.com/v1/chat/completions", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"other version kept", "https://open.bigmodel.cn/api/paas/v4", "v1", "/chat/completions", "https://open.bigmodel.cn/api/paas/v4/chat/completions"},
		{"beta version kept", "https://generativelanguage.googleapis.com/v1beta/openai/", "v1", "/chat/completions", "https://generativelanguage.googleapis.com/v1beta/openai/v1/chat/completions"},
		{"nested prefix", "https://dashscope.aliyuncs.com/compatible-mode/v1", "v1", "/chat/completions", "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"},
		{"unversioned prefix", "https://gateway.example.com/openai", "v1", "/chat/completions", "https://gateway.example.com/openai/v1/chat/completions"},
		{"query preserved", "https://x.example.com/v1?api-version=2024", "v1", "/chat/completions", "https://x.example.com/v1/chat/completions?api-version=2024"},
		{"custom version and suffix", "https://x.example.com", "v2", "/messages", "https://x.example.com/v2/messages"},
		{"whitespace", "  https://api.example.com/  ", "v1", "/chat/completions", "https://api.example.com/v1/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBaseURL(tt.base, tt.version, tt.suffix)
			if err != nil {
				t.Fatalf("NormalizeBaseURL(%q) error = %v", tt.base, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func TestNormalizeBaseURL_Invalid(t *testing.T) {
	_, err := NormalizeBaseURL("http://[::1", "v1", "/chat/completions")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("error = %v, want ErrInvalidTarget", err)
	}
}

func TestResolveAPITarget(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantURL    string
		wantKey    string
		wantErr    error
		wantErrMsg string
	}{
		{
			name:    "direct-URL mode",
			headers: map[string]string{"x-target-url": "https://api.example.com/v1/embeddings", "x-target-api-key": "sk-1"},
			wantURL: "https://api.example.com/v1/embeddings",
			wantKey: "sk-1",
		},
		{
			name:    "base-URL mode",
			headers: map[string]string{"x-target-base-url": "https://api.example.com/", "x-target-api-key": "sk-2"},
			wantURL: "https://api.example.com/v1/chat/completions",
			wantKey: "sk-2",
		},
		{
			name: "direct-URL wins over base-URL",
			headers: map[string]string{
				"x-target-url":      "https://direct.example.com/x",
				"x-target-base-url": "https://base.example.com",
				"x-target-api-key":  "sk-3",
			},
			wantURL: "https://direct.example.com/x",
			wantKey: "sk-3",
		},
		{
			name:    "bearer prefix accepted",
			headers: map[string]string{"x-target-url": "https://api.example.com/x", "x-target-api-key": "Bearer sk-4"},
			wantURL: "https://api.example.com/x",
			wantKey: "sk-4",
		},
		{
			name:       "no target",
			headers:    map[string]string{"x-target-api-key": "sk"},
			wantErr:    ErrMissingHeaders,
			wantErrMsg: "x-target-url or x-target-base-url is required",
		},
		{
			name:       "no credential",
			headers:    map[string]string{"x-target-url": "https://api.example.com/x"},
			wantErr:    ErrMissingHeaders,
			wantErrMsg: "x-target-api-key is required",
		},
		{
			name:    "blank credential",
			headers: map[string]string{"x-target-url": "https://api.example.com/x", "x-target-api-key": "   "},
			wantErr: ErrMissingHeaders,
		},
		{
			name:    "relative URL",
			headers: map[string]string{"x-target-url": "/v1/chat/completions", "x-target-api-key": "sk"},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "unsupported scheme",
			headers: map[string]string{"x-target-url": "ftp://files.example.com/x", "x-target-api-key": "sk"},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "base without scheme",
			headers: map[string]string{"x-target-base-url": "api.example.com", "x-target-api-key": "sk"},
			wantErr: ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.headers {
				header.Set(k, v)
			}

			got, err := ResolveAPITarget(header, "v1", "/chat/completions")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if tt.wantErrMsg != "" && !strings.Contains(err.Error(), tt.wantErrMsg) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErrMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveAPITarget() error = %v", err)
			}
			if got.URL.String() != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL, tt.wantURL)
			}
			if got.Credential != tt.wantKey {
				t.Errorf("Credential = %q, want %q", got.Credential, tt.wantKey)
			}
		})
	}
}

func TestResolveFetchTarget(t *testing.T) {
	tests := []struct {
		name    string
		query   url.Values
		headers map[string]string
		wantURL string
		wantKey string
		wantErr error
	}{
		{
			name:    "query parameter",
			query:   url.Values{"url": {"https://news.example.com/a?b=1"}},
			wantURL: "https://news.example.com/a?b=1",
		},
		{
			name:    "header fallback with optional credential",
			query:   url.Values{},
			headers: map[string]string{"x-target-url": "https://news.example.com/", "x-target-api-key": "tok"},
			wantURL: "https://news.example.com/",
			wantKey: "tok",
		},
		{
			name:    "query wins",
			query:   url.Values{"url": {"https://q.example.com/"}},
			headers: map[string]string{"x-target-url": "https://h.example.com/"},
			wantURL: "https://q.example.com/",
		},
		{
			name:    "missing",
			query:   url.Values{},
			wantErr: ErrMissingHeaders,
		},
		{
			name:    "invalid",
			query:   url.Values{"url": {"javascript:alert(1)"}},
			wantErr: ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.headers {
				header.Set(k, v)
			}

			got, err := ResolveFetchTarget(tt.query, header)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveFetchTarget() error = %v", err)
			}
			if got.URL.String() != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL, tt.wantURL)
			}
			if got.Credential != tt.wantKey {
				t.Errorf("Credential = %q, want %q", got.Credential, tt.wantKey)
			}
		})
	}
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"api.openai.com", "api.openai.com", true},
		{"api.openai.com", "API.OpenAI.com", true},
		{"api.openai.com", "evil-api.openai.com", false},
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "a.b.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "badexample.com", false},
		{"", "example.com", false},
	}

	for _, tt := range tests {
		if got := matchHost(tt.pattern, tt.host); got != tt.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
		}
	}
}
