package embedding

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases", "Hello WORLD", []string{"hello", "world"}},
		{"drops short tokens", "a cat is on the mat", []string{"cat", "the", "mat"}},
		{"punctuation splits", "foo_bar-baz.qux!", []string{"foo", "bar", "baz", "qux"}},
		{"digits kept", "v1 abc123 2026", []string{"abc123", "2026"}},
		{"unicode letters", "Größe café", []string{"größe", "café"}},
		{"empty", "", []string{}},
		{"only separators", "  !!  ..  ", []string{}},
		{"all short", "a an to of", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTermFrequencies(t *testing.T) {
	distinct, tf, maxTF := termFrequencies([]string{"go", "rust", "go", "zig", "go"})
	if !reflect.DeepEqual(distinct, []string{"go", "rust", "zig"}) {
		t.Errorf("distinct = %v", distinct)
	}
	if tf["go"] != 3 || tf["rust"] != 1 || tf["zig"] != 1 {
		t.Errorf("tf = %v", tf)
	}
	if maxTF != 3 {
		t.Errorf("maxTF = %d", maxTF)
	}
}
