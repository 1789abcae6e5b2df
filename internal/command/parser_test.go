package command

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	p := NewParser("!", "@", []string{"status", "gift"})

	tests := []struct {
		name string
		text string
		want ParseResult
	}{
		{
			name: "command target and params",
			text: "!status @alice hello",
			want: ParseResult{Command: "status", Target: "alice", Params: []string{"hello"}},
		},
		{
			name: "unregistered command aborts with nothing",
			text: "!unknown @alice",
			want: ParseResult{},
		},
		{
			name: "stray token before target keeps only the command",
			text: "!status foo",
			want: ParseResult{Command: "status"},
		},
		{
			name: "command alone",
			text: "!status",
			want: ParseResult{Command: "status"},
		},
		{
			name: "leading chatter before the command is skipped",
			text: "hey there !gift @bob rose 3",
			want: ParseResult{Command: "gift", Target: "bob", Params: []string{"rose", "3"}},
		},
		{
			name: "everything after the target is a parameter",
			text: "!gift @bob rose @carol extra",
			want: ParseResult{Command: "gift", Target: "bob", Params: []string{"rose", "@carol", "extra"}},
		},
		{
			name: "keyword case folded",
			text: "!STATUS @alice",
			want: ParseResult{Command: "status", Target: "alice"},
		},
		{
			name: "no command at all",
			text: "just a regular post",
			want: ParseResult{},
		},
		{
			name: "empty text",
			text: "",
			want: ParseResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}
