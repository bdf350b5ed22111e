package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single sentence", "SIGCE is a system.", "SIGCE is a system."},
		{"breaks before capital", "First one. Second one. Third.", "First one.\nSecond one.\nThird."},
		{"lowercase continuation kept", "e.g. this stays. And this breaks.", "e.g. this stays.\nAnd this breaks."},
		{"digits kept", "Version 2. 3 items.", "Version 2. 3 items."},
		{"trims", "  padded. Text  \n", "padded.\nText"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}
