package transcribe

import "testing"

func TestCheckContinuity(t *testing.T) {
	tests := []struct {
		name        string
		prev, cur   string
		wantUpdated bool
		wantLabel   string
	}{
		{name: "first window", prev: "", cur: "hello there", wantLabel: "Transcript:"},
		{name: "extends previous", prev: "hello", cur: "hello there", wantLabel: "Transcript:"},
		{name: "identical", prev: "same text", cur: "same text", wantLabel: "Transcript:"},
		{name: "overlap reread", prev: "the cat sat", cur: "the hat sat on the mat", wantUpdated: true, wantLabel: "Updated transcript (context improved):"},
		{name: "shorter current", prev: "a long sentence", cur: "a long", wantUpdated: true, wantLabel: "Updated transcript (context improved):"},
		{name: "empty current", prev: "words", cur: "", wantUpdated: true, wantLabel: "Updated transcript (context improved):"},
		{name: "multibyte runes", prev: "Grüße", cur: "Grüße aus Köln", wantLabel: "Transcript:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := CheckContinuity(tc.prev, tc.cur)
			if c.Updated != tc.wantUpdated {
				t.Errorf("Updated = %v, want %v", c.Updated, tc.wantUpdated)
			}
			if c.Label() != tc.wantLabel {
				t.Errorf("Label() = %q, want %q", c.Label(), tc.wantLabel)
			}
		})
	}
}

func TestCheckContinuity_Similarity(t *testing.T) {
	if s := CheckContinuity("", "x").Similarity; s != 0 {
		t.Errorf("no previous text: similarity = %f, want 0", s)
	}
	if s := CheckContinuity("hello", "hello world").Similarity; s != 1 {
		t.Errorf("matching prefix: similarity = %f, want 1", s)
	}
	if s := CheckContinuity("abc", "").Similarity; s != 0 {
		t.Errorf("empty current: similarity = %f, want 0", s)
	}

	near := CheckContinuity("the cat sat", "the hat sat").Similarity
	far := CheckContinuity("the cat sat", "xyzzy plugh").Similarity
	if near <= far {
		t.Errorf("similarity(near) = %f should exceed similarity(far) = %f", near, far)
	}
	if near <= 0 || near >= 1 {
		t.Errorf("similarity(near) = %f, want in (0, 1)", near)
	}
}
