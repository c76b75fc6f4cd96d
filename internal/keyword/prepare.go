package keyword

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidQuery is wrapped by every query rejection.
var ErrInvalidQuery = errors.New("invalid query")

// QueryError describes why a query was rejected.
type QueryError struct {
	Reason string
	Token  string
}

func (e *QueryError) Error() string {
	if e.Token == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query: %s: %q", e.Reason, e.Token)
}

func (e *QueryError) Unwrap() error { return ErrInvalidQuery }

// QueryLimits caps query cost. Queries over a limit are rejected, never truncated.
type QueryLimits struct {
	MaxLength    int
	MaxOrClauses int
}

// DefaultLimits are used by PrepareQuery.
var DefaultLimits = QueryLimits{MaxLength: 512, MaxOrClauses: 32}

// PrepareQuery validates raw with DefaultLimits and returns the normalized query.
func PrepareQuery(raw string, allowAdvanced bool) (string, error) {
	return DefaultLimits.Prepare(raw, allowAdvanced)
}

// Prepare validates raw and returns its normalized form. In the default mode
// only letters, digits, '-' and '.' are accepted and whitespace-separated terms
// are joined with OR. Advanced mode additionally accepts AND, OR, parentheses
// and quoted phrases; adjacent operands without an operator are joined with OR.
// Wildcards, proximity operators and column filters are rejected in both modes.
// Blank input yields an empty query and no error.
func (l QueryLimits) Prepare(raw string, allowAdvanced bool) (string, error) {
	if l.MaxLength > 0 && utf8.RuneCountInString(raw) > l.MaxLength {
		return "", &QueryError{Reason: fmt.Sprintf("query longer than %d characters", l.MaxLength)}
	}
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var expr node
	var err error
	if allowAdvanced {
		expr, err = parseAdvanced(raw)
	} else {
		expr, err = parseSimple(raw)
	}
	if err != nil {
		return "", err
	}
	if n := countOrClauses(expr); l.MaxOrClauses > 0 && n > l.MaxOrClauses {
		return "", &QueryError{Reason: fmt.Sprintf("%d OR clauses exceed the limit of %d", n, l.MaxOrClauses)}
	}
	return expr.String(), nil
}

// node is a parsed query expression.
type node interface {
	String() string
}

type termNode struct{ text string }

type phraseNode struct{ words []string }

type boolNode struct {
	op    string // "AND" or "OR"
	items []node
}

type groupNode struct{ inner node }

func (n termNode) String() string { return n.text }

func (n phraseNode) String() string { return `"` + strings.Join(n.words, " ") + `"` }

func (n boolNode) String() string {
	parts := make([]string, len(n.items))
	for i, it := range n.items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " "+n.op+" ")
}

func (n groupNode) String() string { return "(" + n.inner.String() + ")" }

// countOrClauses returns the number of clauses joined by OR anywhere in the
// tree: one more than the number of OR operators.
func countOrClauses(n node) int {
	return orOperators(n) + 1
}

func orOperators(n node) int {
	switch v := n.(type) {
	case boolNode:
		total := 0
		for _, it := range v.items {
			total += orOperators(it)
		}
		if v.op == "OR" {
			total += len(v.items) - 1
		}
		return total
	case groupNode:
		return orOperators(v.inner)
	default:
		return 0
	}
}

var operatorWords = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}

func isTermRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.'
}

// isCombining reports whether r is a combining mark attached to the rune
// before it. Indic scripts and decomposed Latin text need them.
func isCombining(r, prev rune) bool {
	return unicode.IsMark(r) && (unicode.IsLetter(prev) || unicode.IsDigit(prev) || unicode.IsMark(prev))
}

func validateTerm(word string) error {
	hasAlnum := false
	var prev rune
	for _, r := range word {
		switch {
		case isCombining(r, prev):
		case r == '*':
			return &QueryError{Reason: "wildcards are not allowed", Token: word}
		case r == ':':
			return &QueryError{Reason: "column filters are not allowed", Token: word}
		case r == '^':
			return &QueryError{Reason: "initial-token syntax is not allowed", Token: word}
		case !isTermRune(r):
			return &QueryError{Reason: fmt.Sprintf("character %q is not allowed", r), Token: word}
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
		}
		prev = r
	}
	if !hasAlnum {
		return &QueryError{Reason: "term needs a letter or digit", Token: word}
	}
	return nil
}

func parseSimple(raw string) (node, error) {
	words := strings.Fields(raw)
	items := make([]node, 0, len(words))
	for _, w := range words {
		if operatorWords[w] {
			return nil, &QueryError{Reason: "operators need advanced mode", Token: w}
		}
		if err := validateTerm(w); err != nil {
			return nil, err
		}
		items = append(items, termNode{text: w})
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return boolNode{op: "OR", items: items}, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokOpen
	tokClose
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	// words of a phrase
	words []string
}

func tokenize(raw string) ([]token, error) {
	var tokens []token
	depth := 0
	runes := []rune(raw)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			depth++
			tokens = append(tokens, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			depth--
			if depth < 0 {
				return nil, &QueryError{Reason: "unbalanced parentheses"}
			}
			tokens = append(tokens, token{kind: tokClose, text: ")"})
			i++
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			if j >= len(runes) {
				return nil, &QueryError{Reason: "unbalanced quotes"}
			}
			body := string(runes[i+1 : j])
			words := strings.Fields(body)
			if len(words) == 0 {
				return nil, &QueryError{Reason: "empty phrase"}
			}
			for _, w := range words {
				if err := validateTerm(w); err != nil {
					return nil, err
				}
			}
			tokens = append(tokens, token{kind: tokPhrase, text: body, words: words})
			i = j + 1
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) && runes[j] != '(' && runes[j] != ')' && runes[j] != '"' {
				j++
			}
			word := string(runes[i:j])
			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, text: word})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, text: word})
			case "NOT":
				return nil, &QueryError{Reason: "NOT is not supported", Token: word}
			case "NEAR":
				return nil, &QueryError{Reason: "proximity queries are not allowed", Token: word}
			default:
				if err := validateTerm(word); err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokWord, text: word})
			}
			i = j
		}
	}
	if depth != 0 {
		return nil, &QueryError{Reason: "unbalanced parentheses"}
	}
	return tokens, nil
}

// parseAdvanced parses
//
//	or    := and { ["OR"] and }
//	and   := unary { "AND" unary }
//	unary := word | phrase | "(" or ")"
func parseAdvanced(raw string) (node, error) {
	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, &QueryError{Reason: "unexpected token", Token: p.tokens[p.pos].text}
	}
	return n, nil
}

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func startsOperand(t token) bool {
	return t.kind == tokWord || t.kind == tokPhrase || t.kind == tokOpen
}

func (p *exprParser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	items := []node{first}
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.kind == tokOr {
			p.pos++
		} else if !startsOperand(t) {
			break
		}
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return boolNode{op: "OR", items: items}, nil
}

func (p *exprParser) parseAnd() (node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	items := []node{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return boolNode{op: "AND", items: items}, nil
}

func (p *exprParser) parseUnary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, &QueryError{Reason: "operator without operand"}
	}
	switch t.kind {
	case tokWord:
		p.pos++
		return termNode{text: t.text}, nil
	case tokPhrase:
		p.pos++
		return phraseNode{words: t.words}, nil
	case tokOpen:
		p.pos++
		if next, ok := p.peek(); ok && next.kind == tokClose {
			return nil, &QueryError{Reason: "empty group"}
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing, ok := p.peek(); !ok || closing.kind != tokClose {
			return nil, &QueryError{Reason: "unbalanced parentheses"}
		}
		p.pos++
		return groupNode{inner: inner}, nil
	default:
		return nil, &QueryError{Reason: "operator without operand", Token: t.text}
	}
}
