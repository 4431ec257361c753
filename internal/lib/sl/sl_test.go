package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	attr := Err(errors.New("connection refused"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "connection refused", attr.Value.String())
}

func TestSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "long token keeps tail", value: "sk-abcdef123456", want: "****3456"},
		{name: "short value fully masked", value: "abc", want: "****"},
		{name: "empty value", value: "", want: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Secret("api_key", tt.value)
			assert.Equal(t, "api_key", attr.Key)
			assert.Equal(t, tt.want, attr.Value.String())
		})
	}
}
