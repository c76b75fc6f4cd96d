package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask,
// token_type_ids) padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps each term to a hashed vocabulary id. Markdown syntax
// (heading marks, fences, emphasis) never becomes a token.
type SimpleTokenizer struct{}

const (
	tokenCLS = 101
	tokenSEP = 102
	// firstWordID keeps hashed ids clear of the special tokens below it.
	firstWordID = 1000
	vocab       = 30000
)

// Tokenize emits [CLS] terms... [SEP], truncating so [SEP] always fits.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1

	pos := 1
	for _, term := range Terms(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(firstWordID + HashString(term)%(vocab-firstWordID))
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Terms lowercases text and splits it on anything that is not a letter or
// digit. It returns nil when text has no terms.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// HashString returns a deterministic non-negative FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
