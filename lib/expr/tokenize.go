package expr

import "strings"

// operators is ordered so that two-character operators match before
// their one-character prefixes.
var operators = []string{"&&", "||", "==", "!=", ">=", "<=", ">", "<", "!", "(", ")"}

var binaryOperators = map[string]bool{
	"&&": true, "||": true,
	"==": true, "!=": true,
	">": true, ">=": true,
	"<": true, "<=": true,
}

// IsOperator reports whether tok is one of the language's operators,
// including parentheses and the prefix !.
func IsOperator(tok string) bool {
	return tok == "!" || tok == "(" || tok == ")" || binaryOperators[tok]
}

// Tokenize splits expression on the operator set. Fragments between
// operators are trimmed and whitespace-only fragments are dropped.
// Operators inside quoted strings are not split.
func Tokenize(expression string) []string {
	var (
		tokens   []string
		fragment strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(fragment.String()); s != "" {
			tokens = append(tokens, s)
		}
		fragment.Reset()
	}

	for i := 0; i < len(expression); {
		c := expression[i]
		if c == '"' || c == '\'' {
			end := strings.IndexByte(expression[i+1:], c)
			if end < 0 {
				fragment.WriteString(expression[i:])
				break
			}
			fragment.WriteString(expression[i : i+end+2])
			i += end + 2
			continue
		}
		if op := operatorAt(expression, i); op != "" {
			flush()
			tokens = append(tokens, op)
			i += len(op)
			continue
		}
		fragment.WriteByte(c)
		i++
	}
	flush()
	return tokens
}

func operatorAt(s string, i int) string {
	for _, op := range operators {
		if strings.HasPrefix(s[i:], op) {
			return op
		}
	}
	return ""
}
