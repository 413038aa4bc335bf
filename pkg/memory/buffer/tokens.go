package buffer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const defaultCharsPerToken = 4

// Estimator approximates how many tokens a message costs.
type Estimator interface {
	Estimate(m Message) int
}

// CharEstimator assumes a fixed number of characters per token.
type CharEstimator struct {
	CharsPerToken int
}

func (e CharEstimator) Estimate(m Message) int {
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = defaultCharsPerToken
	}
	chars := messageChars(m)
	tokens := chars / cpt
	if chars > 0 && tokens == 0 {
		tokens = 1
	}
	return tokens
}

// TiktokenEstimator counts BPE tokens with cl100k_base. When the encoding
// cannot be loaded (it is fetched on first use) it falls back to CharEstimator.
type TiktokenEstimator struct {
	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback CharEstimator
}

func (e *TiktokenEstimator) Estimate(m Message) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("tiktoken unavailable, estimating tokens from characters")
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return e.fallback.Estimate(m)
	}
	n := len(e.enc.Encode(m.Text, nil, nil))
	for _, c := range m.Calls {
		n += len(e.enc.Encode(c.Name, nil, nil)) + len(e.enc.Encode(c.RawArgs, nil, nil))
	}
	return n
}

func EstimateAll(e Estimator, msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Estimate(m)
	}
	return total
}

func messageChars(m Message) int {
	n := len(m.Text)
	for _, c := range m.Calls {
		n += len(c.Name) + len(c.RawArgs)
	}
	return n
}
