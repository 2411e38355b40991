package clients

import (
	"errors"
	"testing"
)

func TestJSONParser(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		want    string
		wantErr error
	}{
		{
			name:    "simple field",
			path:    "version",
			content: `{"version": "1.2.3"}`,
			want:    "1.2.3",
		},
		{
			name:    "nested path",
			path:    "info.version",
			content: `{"info": {"version": "2.31.0"}}`,
			want:    "2.31.0",
		},
		{
			name:    "array indexing",
			path:    "releases[0].version",
			content: `{"releases": [{"version": "3.0.0"}, {"version": "2.9.0"}]}`,
			want:    "3.0.0",
		},
		{
			name:    "numeric value",
			path:    "build",
			content: `{"build": 42}`,
			want:    "42",
		},
		{
			name:    "missing field",
			path:    "info.version",
			content: `{"info": {}}`,
			wantErr: ErrJSONPathNotFound,
		},
		{
			name:    "index out of bounds",
			path:    "releases[5]",
			content: `{"releases": ["1.0"]}`,
			wantErr: ErrJSONPathNotFound,
		},
		{
			name:    "object where array expected",
			path:    "info[0]",
			content: `{"info": {"version": "1.0"}}`,
			wantErr: ErrJSONPathNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &JSONParser{Path: tt.path}
			got, err := p.Parse([]byte(tt.content))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONParserInvalidInput(t *testing.T) {
	p := &JSONParser{Path: "version"}
	if _, err := p.Parse([]byte("not json")); err == nil {
		t.Error("Parse() on malformed JSON should fail")
	}

	empty := &JSONParser{}
	if _, err := empty.Parse([]byte(`{}`)); !errors.Is(err, ErrInvalidJSONPath) {
		t.Errorf("Parse() with empty path error = %v, want ErrInvalidJSONPath", err)
	}
}

func TestRegexParser(t *testing.T) {
	p, err := NewRegexParser(`version-(\d+\.\d+\.\d+)\.tar\.gz`)
	if err != nil {
		t.Fatalf("NewRegexParser() error = %v", err)
	}

	got, err := p.Parse([]byte(`<a href="version-4.5.6.tar.gz">download</a>`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != "4.5.6" {
		t.Errorf("Parse() = %q, want %q", got, "4.5.6")
	}

	if _, err := p.Parse([]byte("no versions here")); !errors.Is(err, ErrRegexNoMatch) {
		t.Errorf("Parse() error = %v, want ErrRegexNoMatch", err)
	}
}

func TestRegexParserValidation(t *testing.T) {
	if _, err := NewRegexParser(`[invalid`); !errors.Is(err, ErrInvalidRegexPattern) {
		t.Errorf("NewRegexParser() error = %v, want ErrInvalidRegexPattern", err)
	}
	if _, err := NewRegexParser(`\d+\.\d+`); !errors.Is(err, ErrNoCaptureGroup) {
		t.Errorf("NewRegexParser() without capture error = %v, want ErrNoCaptureGroup", err)
	}
}

func TestNewParser(t *testing.T) {
	tests := []struct {
		parserType string
		expr       string
		wantErr    bool
	}{
		{"json", "info.version", false},
		{"regex", `v(\d+)`, false},
		{"css", "div.version", false},
		{"xpath", "//span[@id='version']", false},
		{"yaml", "version", true},
		{"", "x", true},
	}
	for _, tt := range tests {
		_, err := NewParser(tt.parserType, tt.expr)
		if tt.wantErr && err == nil {
			t.Errorf("NewParser(%q) should fail", tt.parserType)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("NewParser(%q) error = %v", tt.parserType, err)
		}
	}
}
