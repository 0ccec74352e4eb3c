package bot

import "testing"

func TestParseApprove(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		uid  int64
		days int
		ok   bool
	}{
		{"/approve_42_30", 42, 30, true},
		{"/approve_123456789_1", 123456789, 1, true},
		{"/approve_42", 0, 0, false},
		{"/approve_42_0", 0, 0, false},
		{"/approve_42_-3", 0, 0, false},
		{"/approve_abc_30", 0, 0, false},
		{"/approve_42_30_extra", 0, 0, false},
		{"/reject_42", 0, 0, false},
		{"approve_42_30", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			uid, days, ok := parseApprove(tc.in)
			if uid != tc.uid || days != tc.days || ok != tc.ok {
				t.Fatalf("parseApprove(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tc.in, uid, days, ok, tc.uid, tc.days, tc.ok)
			}
		})
	}
}

func TestParseReject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in  string
		uid int64
		ok  bool
	}{
		{"/reject_42", 42, true},
		{"/reject_0", 0, false},
		{"/reject_abc", 0, false},
		{"/reject_", 0, false},
		{"/approve_42_30", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			uid, ok := parseReject(tc.in)
			if uid != tc.uid || ok != tc.ok {
				t.Fatalf("parseReject(%q) = (%d, %v), want (%d, %v)", tc.in, uid, ok, tc.uid, tc.ok)
			}
		})
	}
}

func TestParseBalance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		uid    int64
		amount int64
		ok     bool
	}{
		{"/balance_42_500", 42, 500, true},
		{"/balance_42_-200", 42, -200, true},
		{"/balance_42_0", 0, 0, false},
		{"/balance_42", 0, 0, false},
		{"/balance_abc_500", 0, 0, false},
		{"/approve_42_30", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			uid, amount, ok := parseBalance(tc.in)
			if uid != tc.uid || amount != tc.amount || ok != tc.ok {
				t.Fatalf("parseBalance(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tc.in, uid, amount, ok, tc.uid, tc.amount, tc.ok)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := preview("short text"); got != "short text" {
		t.Fatalf("preview = %q", got)
	}
	if got := preview("line\nbreaks\nhere"); got != "line breaks here" {
		t.Fatalf("preview = %q", got)
	}
	long := make([]rune, 100)
	for i := range long {
		long[i] = 'x'
	}
	got := preview(string(long))
	if want := string(long[:60]) + "…"; got != want {
		t.Fatalf("preview length = %d, want 61 runes", len([]rune(got)))
	}
}

func TestDialogBookkeeping(t *testing.T) {
	t.Parallel()

	s := &Service{dialogs: make(map[int64]*dialog)}

	d := s.dialogFor(1)
	if d.step != stepNone {
		t.Fatalf("fresh dialog step = %v", d.step)
	}

	s.setStep(1, stepJobText)
	if s.dialogFor(1).step != stepJobText {
		t.Fatal("setStep did not stick")
	}

	// Dialogs are per user.
	if s.dialogFor(2).step != stepNone {
		t.Fatal("dialog state leaked across users")
	}

	s.resetDialog(1)
	if s.dialogFor(1).step != stepNone {
		t.Fatal("reset did not clear the dialog")
	}
}
