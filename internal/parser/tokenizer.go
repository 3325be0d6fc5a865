package parser

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

type TokenKind int

const (
	TokenNumber TokenKind = iota // run of ASCII digits
	TokenSpace                   // run of Unicode white space
	TokenPeriod                  // "."
	TokenColon                   // ":"
	TokenWord                    // run of anything else
)

func (k TokenKind) String() string {
	switch k {
	case TokenNumber:
		return "number"
	case TokenSpace:
		return "space"
	case TokenPeriod:
		return "period"
	case TokenColon:
		return "colon"
	case TokenWord:
		return "word"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

// Token is a lexeme with its byte span in the input.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
}

func classify(r rune) TokenKind {
	switch {
	case r >= '0' && r <= '9':
		return TokenNumber
	case r == '.':
		return TokenPeriod
	case r == ':':
		return TokenColon
	case unicode.IsSpace(r):
		return TokenSpace
	default:
		return TokenWord
	}
}

// Tokenize splits s into tokens. Adjacent runes of the same run kind
// (number, space, word) merge; periods and colons are always single tokens.
// Invalid UTF-8 bytes become part of word tokens.
func Tokenize(s string) []Token {
	var tokens []Token
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		kind := classify(r)
		start := i
		i += size

		if kind != TokenPeriod && kind != TokenColon {
			for i < len(s) {
				next, nsize := utf8.DecodeRuneInString(s[i:])
				if classify(next) != kind {
					break
				}
				i += nsize
			}
		}

		tokens = append(tokens, Token{Kind: kind, Text: s[start:i], Start: start, End: i})
	}
	return tokens
}
