package identity

import (
	"context"
	"errors"
	"regexp"
	"testing"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestNormalizeChatID_Deterministic(t *testing.T) {
	inputs := []string{"weekly sync", "Acme Deal Review", "chat-42", "日本語ラベル"}
	for _, in := range inputs {
		a := NormalizeChatID(in)
		b := NormalizeChatID(in)
		if a != b {
			t.Errorf("NormalizeChatID(%q) not deterministic: %q vs %q", in, a, b)
		}
		if !uuidRe.MatchString(a) {
			t.Errorf("NormalizeChatID(%q) = %q, not UUID-shaped", in, a)
		}
	}
}

func TestNormalizeChatID_UUIDPassthrough(t *testing.T) {
	// Case is preserved on pass-through.
	ids := []string{
		"123e4567-e89b-12d3-a456-426614174000",
		"123E4567-E89B-12D3-A456-426614174000",
	}
	for _, id := range ids {
		if got := NormalizeChatID(id); got != id {
			t.Errorf("NormalizeChatID(%q) = %q, want unchanged", id, got)
		}
	}
}

func TestNormalizeChatID_Empty(t *testing.T) {
	got := NormalizeChatID("")
	if !uuidRe.MatchString(got) {
		t.Errorf("empty chat ID produced %q, not UUID-shaped", got)
	}
}

func TestDeterministicUUID_KnownDigest(t *testing.T) {
	// SHA-1("hello") = aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d
	want := "aaf4c61d-dcc5-e8a2-dabe-de0f3b482cd9"
	if got := DeterministicUUID("hello"); got != want {
		t.Errorf("DeterministicUUID(hello) = %q, want %q", got, want)
	}
}

func TestIsUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123e4567-e89b-12d3-a456-426614174000", true},
		{"123E4567-E89B-12D3-A456-426614174000", true},
		{"not-a-uuid", false},
		{"123e4567e89b12d3a456426614174000", false},
		{"", false},
		{"123e4567-e89b-12d3-a456-42661417400g", false},
	}
	for _, tt := range tests {
		if got := IsUUID(tt.in); got != tt.want {
			t.Errorf("IsUUID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type fakeLookup struct {
	names map[string]string
	err   error
}

func (f *fakeLookup) FindProjectByName(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[name], nil
}

func TestResolveProjectID(t *testing.T) {
	lookup := &fakeLookup{names: map[string]string{
		"Acme Deal": "4b8f8a9e-1234-4abc-8def-0123456789ab",
	}}

	// UUID passes through without lookup.
	id := "123e4567-e89b-12d3-a456-426614174000"
	got, err := ResolveProjectID(context.Background(), id, lookup)
	if err != nil || got != id {
		t.Errorf("ResolveProjectID(uuid) = (%q, %v), want (%q, nil)", got, err, id)
	}

	// Name resolves.
	got, err = ResolveProjectID(context.Background(), "Acme Deal", lookup)
	if err != nil || got != "4b8f8a9e-1234-4abc-8def-0123456789ab" {
		t.Errorf("ResolveProjectID(name) = (%q, %v)", got, err)
	}

	// Unknown name is not an error.
	got, err = ResolveProjectID(context.Background(), "Nope Inc", lookup)
	if err != nil || got != "" {
		t.Errorf("ResolveProjectID(unknown) = (%q, %v), want empty and nil", got, err)
	}

	// Store errors propagate.
	lookup.err = errors.New("db down")
	if _, err := ResolveProjectID(context.Background(), "Acme Deal", lookup); err == nil {
		t.Error("expected error when lookup fails")
	}

	// Empty project ID resolves to none.
	got, err = ResolveProjectID(context.Background(), "", lookup)
	if err != nil || got != "" {
		t.Errorf("ResolveProjectID(empty) = (%q, %v)", got, err)
	}
}
