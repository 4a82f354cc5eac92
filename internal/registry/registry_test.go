package registry

import "testing"

func TestLookup(t *testing.T) {
	mi, ok := Lookup("gemini-2.5-flash")
	if !ok {
		t.Fatal("expected gemini-2.5-flash to be catalogued")
	}
	if mi.Provider != "google" {
		t.Errorf("got provider %q, want google", mi.Provider)
	}
	if _, ok := Lookup("not-a-real-model"); ok {
		t.Error("expected unknown model to miss")
	}
}

func TestResolveProvider(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"gemini-2.5-flash", "google"}, // table hit
		{"gemini-9.0-ultra", "google"}, // prefix heuristic
		{"gpt-5", "openai"},
		{"o3-ultra", "openai"},
		{"o4-nano", "openai"},
		{"claude-4-opus", "anthropic"},
		{"grok-4", "xai"},
		{"meta-llama/llama-3", "openrouter"},
		{"totally-unknown", "google"}, // falls to default
	}
	for _, c := range cases {
		if got := ResolveProvider(c.name, "google"); got != c.want {
			t.Errorf("ResolveProvider(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestPricing(t *testing.T) {
	in, out, ok := Pricing("gpt-4o-mini")
	if !ok {
		t.Fatal("expected pricing for gpt-4o-mini")
	}
	if in != 0.15 || out != 0.60 {
		t.Errorf("got (%v, %v), want (0.15, 0.60)", in, out)
	}
	if _, _, ok := Pricing("unknown-model"); ok {
		t.Error("expected unknown model pricing miss")
	}
}

func TestList(t *testing.T) {
	all := List("")
	if len(all) != len(Models) {
		t.Errorf("List(\"\") returned %d, want %d", len(all), len(Models))
	}
	google := List("google")
	for _, m := range google {
		if m.Provider != "google" {
			t.Errorf("List(google) returned non-google model %q", m.Name)
		}
	}
	if len(google) == 0 {
		t.Error("expected at least one google model")
	}
}
