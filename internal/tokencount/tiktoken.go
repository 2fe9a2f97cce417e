package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodersMu sync.Mutex
	encoders   = map[string]*tiktoken.Tiktoken{}
)

// sharedEncoding returns the process-wide encoder for name, loading it once.
// tiktoken-go fetches and caches the BPE ranks on first use.
func sharedEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if enc, ok := encoders[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	encoders[name] = enc
	return enc, nil
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	enc        *tiktoken.Tiktoken
	name       string
	multiplier float64
}

// NewTiktoken loads the named encoding (cl100k_base, r50k_base, ...).
func NewTiktoken(encoding string, multiplier float64) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	enc, err := sharedEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{enc: enc, name: encoding, multiplier: multiplier}, nil
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string { return t.name }

// Count returns the inflated token count.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return inflate(len(t.Encode(text)), t.multiplier)
}

// Encode returns raw token ids. Special-token text such as <|endoftext|> is
// encoded as ordinary text, the way a provider bills it when it appears in
// a prompt, rather than collapsing to one special id or being rejected.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode is the inverse of Encode.
func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
