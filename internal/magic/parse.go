// Package magic reads notebook scripts written with the %ml_init, %%ml_code
// and %%ml_run magics.
package magic

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type Name string

const (
	Init Name = "ml_init"
	Code Name = "ml_code"
	Run  Name = "ml_run"
)

// Command is one magic invocation. Args holds the magic line split on
// whitespace; Body holds the cell content of cell magics.
type Command struct {
	Name Name
	Args []string
	Body string
	Line int
}

// Cloud reports whether a run cell asks for remote submission.
func (c Command) Cloud() bool {
	return c.Name == Run && len(c.Args) == 1 && c.Args[0] == "cloud"
}

// ParseError points at the offending script line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse splits a script into commands. Cell magics own every line until the
// next magic. Lines before the first magic must be blank or comments.
func Parse(r io.Reader) ([]Command, error) {
	var (
		cmds []Command
		cur  *Command
		body []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimRight(strings.Join(body, "\n"), "\n")
		cmds = append(cmds, *cur)
		cur, body = nil, nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "%%"):
			flush()
			name, args := split(trimmed[2:])
			if name != Code && name != Run {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown cell magic %%%%%s", name)}
			}
			cur = &Command{Name: name, Args: args, Line: lineNo}
		case strings.HasPrefix(trimmed, "%"):
			flush()
			name, args := split(trimmed[1:])
			if name != Init {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown line magic %%%s", name)}
			}
			cmds = append(cmds, Command{Name: name, Args: args, Line: lineNo})
		case cur != nil:
			body = append(body, line)
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		default:
			return nil, &ParseError{Line: lineNo, Msg: "code outside of a cell magic"}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return cmds, nil
}

func split(s string) (Name, []string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return Name(fields[0]), fields[1:]
}
