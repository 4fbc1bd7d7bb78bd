package bridge

import "testing"

func TestFilterResponses(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text identity", "hello world\r\n", "hello world\r\n"},
		{"empty", "", ""},
		{"sgr untouched", "\x1b[31mred\x1b[0m", "\x1b[31mred\x1b[0m"},
		{
			"osc color query bel",
			"before\x1b]11;?\x07after",
			"beforeafter",
		},
		{
			"osc color query st",
			"before\x1b]10;rgb:ffff/ffff/ffff\x1b\\after",
			"beforeafter",
		},
		{
			"osc clipboard",
			"a\x1b]52;c;aGVsbG8=\x07b",
			"ab",
		},
		{
			"osc palette",
			"x\x1b]4;1;rgb:cccc/0000/0000\x07y",
			"xy",
		},
		{
			"osc title untouched",
			"\x1b]0;my title\x07rest",
			"\x1b]0;my title\x07rest",
		},
		{
			"osc 8 hyperlink untouched",
			"\x1b]8;;http://x\x07link\x1b]8;;\x07",
			"\x1b]8;;http://x\x07link\x1b]8;;\x07",
		},
		{
			"dcs stripped",
			"a\x1bP1$r0m\x1b\\b",
			"ab",
		},
		{
			"unterminated osc passes through",
			"tail\x1b]11;rgb:00",
			"tail\x1b]11;rgb:00",
		},
		{
			"unterminated dcs passes through",
			"tail\x1bPpayload",
			"tail\x1bPpayload",
		},
		{
			"bare escape at end",
			"x\x1b",
			"x\x1b",
		},
		{
			"multiple sequences",
			"\x1b]11;?\x07mid\x1b]12;?\x07end",
			"midend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterResponses(tt.in); got != tt.want {
				t.Errorf("FilterResponses(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
