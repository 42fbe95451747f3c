package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding covers models tiktoken does not know; cl100k_base is close
// enough for budget estimation.
const fallbackEncoding = "cl100k_base"

var (
	encoderMu    sync.Mutex
	encoderCache = make(map[string]*tiktoken.Tiktoken)
)

// EstimateTokens counts tokens in text for the given model, used when a
// provider omits usage and to size FM char budgets. Unknown models fall back
// to cl100k_base; if even that fails (no embedded vocabulary), a chars/4
// heuristic keeps the estimate usable.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encoderFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateMessageTokens sums the token estimate across a conversation, with a
// small per-message envelope overhead.
func EstimateMessageTokens(model string, msgs []Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(model, m.Content) + perMessageOverhead
	}
	return total
}

func encoderFor(model string) *tiktoken.Tiktoken {
	encoderMu.Lock()
	defer encoderMu.Unlock()

	if enc, ok := encoderCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			encoderCache[model] = nil
			return nil
		}
	}
	encoderCache[model] = enc
	return enc
}
