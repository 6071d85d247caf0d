package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTickersWhitelistScan(t *testing.T) {
	repo := &sentimentRepository{}
	whitelist := []string{"AAPL", "TSLA", "MSFT"}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "bare symbol",
			text: "AAPL beats earnings expectations",
			want: []string{"AAPL"},
		},
		{
			name: "cashtag",
			text: "Analysts upgrade $TSLA after deliveries report",
			want: []string{"TSLA"},
		},
		{
			name: "multiple symbols deduplicated",
			text: "AAPL and MSFT rally; AAPL leads the gains",
			want: []string{"AAPL", "MSFT"},
		},
		{
			name: "off-whitelist uppercase words ignored",
			text: "CEO of NVDA speaks at IPO event",
			want: nil,
		},
		{
			name: "symbol inside a longer word ignored",
			text: "The AAPLE orchard report",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repo.ExtractTickers(tt.text, whitelist))
		})
	}
}
