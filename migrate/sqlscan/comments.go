package sqlscan

import "fmt"

// Violation reports a comment-safety problem in a SQL source.
type Violation struct {
	Line    int
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("line %d: %s", v.Line, v.Message)
}

// CheckComments scans content for unclosed block comments. A file ending
// inside /* ... corrupts anything concatenated after it, so the check runs
// before schema files are combined and before migration bodies are split.
func CheckComments(content string) []Violation {
	if content == "" {
		return nil
	}

	var violations []Violation

	inBlockComment := false
	inSingleQuote := false
	blockStartLine := 0
	line := 1

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if ch == '\n' {
			line++
			continue
		}

		switch {
		case inBlockComment:
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				i++
				inBlockComment = false
			}
		case inSingleQuote:
			if ch == '\'' {
				if i+1 < len(content) && content[i+1] == '\'' {
					i++
				} else {
					inSingleQuote = false
				}
			}
		default:
			switch {
			case ch == '/' && i+1 < len(content) && content[i+1] == '*':
				inBlockComment = true
				blockStartLine = line
				i++
			case ch == '\'':
				inSingleQuote = true
			case ch == '-' && i+1 < len(content) && content[i+1] == '-':
				// Line comment runs to end of line; skip so that /* inside
				// a -- comment is not treated as a block opener.
				for i < len(content) && content[i] != '\n' {
					i++
				}
				line++
			}
		}
	}

	if inBlockComment {
		violations = append(violations, Violation{
			Line:    blockStartLine,
			Message: fmt.Sprintf("unclosed block comment starting at line %d", blockStartLine),
		})
	}

	return violations
}
