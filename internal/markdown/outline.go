package markdown

import "strings"

// Parents returns, for each block, the index of the heading it nests under,
// or -1. Headings nest under the nearest preceding heading of a lower level;
// other blocks nest under the most recent heading.
func Parents(blocks []Block) []int {
	parents := make([]int, len(blocks))
	// open headings, levels strictly increasing
	var stack []int
	for i, b := range blocks {
		if b.Kind == KindHeading {
			for len(stack) > 0 && blocks[stack[len(stack)-1]].Level >= b.Level {
				stack = stack[:len(stack)-1]
			}
		}
		parents[i] = -1
		if len(stack) > 0 {
			parents[i] = stack[len(stack)-1]
		}
		if b.Kind == KindHeading {
			stack = append(stack, i)
		}
	}
	return parents
}

// Body returns the searchable text of a block given its own bytes: the title
// for a heading, the code between the fences for a code block and the
// trimmed text otherwise.
func Body(raw []byte, b Block) string {
	switch b.Kind {
	case KindHeading:
		return b.Title
	case KindCodeBlock:
		text := strings.Trim(string(raw), " \t\r\n")
		if text == "" {
			return ""
		}
		fence := text[0]
		lines := strings.Split(text, "\n")[1:]
		if n := len(lines); n > 0 && isFenceRun(lines[n-1], fence) {
			lines = lines[:n-1]
		}
		for i := range lines {
			lines[i] = strings.TrimSuffix(lines[i], "\r")
		}
		return strings.Join(lines, "\n")
	default:
		return strings.TrimSpace(string(raw))
	}
}

func isFenceRun(line string, ch byte) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 3 && strings.Trim(line, string(ch)) == ""
}
