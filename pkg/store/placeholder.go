package store

import (
	"bytes"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks an opaque handle the model can put in a payload
// instead of the base64 data itself.
const PlaceholderPrefix = "BASE64_KEY:"

// Placeholders keeps base64 payloads out of the model's context. Entries live
// as long as the chain that owns the store.
type Placeholders struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewPlaceholders() *Placeholders {
	return &Placeholders{entries: map[string]string{}}
}

// Put stores encoded and returns its placeholder token.
func (p *Placeholders) Put(encoded string) string {
	token := PlaceholderPrefix + uuid.NewString()
	p.mu.Lock()
	p.entries[token] = encoded
	p.mu.Unlock()
	return token
}

func (p *Placeholders) Get(token string) (string, bool) {
	if !strings.HasPrefix(token, PlaceholderPrefix) {
		token = PlaceholderPrefix + token
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.entries[token]
	return v, ok
}

func (p *Placeholders) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Substitute replaces every known token in body with its payload. It returns
// the new body and the number of tokens replaced.
func (p *Placeholders) Substitute(body []byte) ([]byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	replaced := 0
	for token, encoded := range p.entries {
		if !bytes.Contains(body, []byte(token)) {
			continue
		}
		body = bytes.ReplaceAll(body, []byte(token), []byte(encoded))
		replaced++
	}
	return body, replaced
}
