package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSavepointName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "simple identifier", input: "txn_group_0", want: true},
		{name: "leading underscore", input: "_sp1", want: true},
		{name: "single letter", input: "a", want: true},
		{name: "max length 63", input: "a" + strings.Repeat("b", 62), want: true},
		{name: "too long", input: "a" + strings.Repeat("b", 63), want: false},
		{name: "empty", input: "", want: false},
		{name: "leading digit", input: "1txn", want: false},
		{name: "hyphen", input: "txn-group", want: false},
		{name: "sql injection", input: "x; DROP TABLE lots", want: false},
		{name: "whitespace", input: "txn group", want: false},
		{name: "quote", input: `txn"`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSavepointName(tt.input))
		})
	}
}
