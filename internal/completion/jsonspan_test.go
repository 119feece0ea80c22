package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"surrounded", `Sure! {"verdict":"accepted"} hope that helps`, `{"verdict":"accepted"}`, true},
		{"nested", `x {"a":{"b":2}} y {"c":3}`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"reason":"use } carefully"}`, `{"reason":"use } carefully"}`, true},
		{"escaped quote", `{"reason":"say \"}\" now"}`, `{"reason":"say \"}\" now"}`, true},
		{"unbalanced then balanced", `{ oops {"a":1}`, `{"a":1}`, true},
		{"none", `no json here`, "", false},
		{"unterminated", `{"a":1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"jobs":[]}`, StripCodeFences("```json\n{\"jobs\":[]}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```{\"a\":1}```"))
	assert.Equal(t, "plain", StripCodeFences("  plain  "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "hé", Truncate("héllo", 2))
}
