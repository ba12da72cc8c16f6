package memctx

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/pilothq/recall/pkg/models"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// CountTokens returns the token length of text. Falls back to a
// bytes/4 estimate if the tokenizer cannot be initialised.
func CountTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(text) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// Economics summarises what re-reading memory costs versus what the
// original discovery work cost.
type Economics struct {
	ObservationCount int
	DiscoveryTokens  int64
	ReadTokens       int
	SavedTokens      int64
}

// ComputeEconomics totals discoveryTokens across the selected
// observations and compares against the token size of the rendered
// document.
func ComputeEconomics(observations []*models.Observation, rendered string) Economics {
	var discovery int64
	for _, obs := range observations {
		discovery += obs.DiscoveryTokens
	}
	read := CountTokens(rendered)
	saved := discovery - int64(read)
	if saved < 0 {
		saved = 0
	}
	return Economics{
		ObservationCount: len(observations),
		DiscoveryTokens:  discovery,
		ReadTokens:       read,
		SavedTokens:      saved,
	}
}
