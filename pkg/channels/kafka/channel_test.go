package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{input: "", want: []string{}},
		{input: "localhost:9092", want: []string{"localhost:9092"}},
		{input: "a:9092, b:9092,,", want: []string{"a:9092", "b:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBrokers(tt.input))
		})
	}
}

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "leadflow")
	require.ErrorIs(t, err, ErrNoBrokers)
}
