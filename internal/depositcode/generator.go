package depositcode

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// codeAlphabet excludes the visually ambiguous symbols 0, O, 1, I and l,
// leaving exactly 32 characters so every symbol is reachable from a uniform
// 16-bit draw.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of every deposit code.
const CodeLength = 8

// maxGenerationRetries bounds collision retries before generation fails with
// GenerationExhausted.
const maxGenerationRetries = 10

// NewCode draws an 8-character code from the 32-symbol alphabet using
// crypto/rand. Two random bytes are consumed per output character; since 32
// divides 65536 evenly the modulo introduces no bias.
func NewCode() (string, error) {
	buf := make([]byte, 2*CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	out := make([]byte, CodeLength)
	for i := 0; i < CodeLength; i++ {
		v := binary.BigEndian.Uint16(buf[2*i:])
		out[i] = codeAlphabet[v%uint16(len(codeAlphabet))]
	}
	return string(out), nil
}

// ValidFormat reports whether s is exactly 8 alphanumeric characters. It is
// deliberately looser than the generation alphabet: externally issued codes
// may contain symbols we never generate.
func ValidFormat(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
