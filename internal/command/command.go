// Package command renders external tool invocations from ordered flag/value
// pairs, either as a display line or as an argument vector for exec.
package command

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Arg is a single flag with an optional value. An empty Value renders the
// flag alone, which is also how positional arguments are expressed.
type Arg struct {
	Flag  string
	Value string
}

// Command is a program plus its ordered arguments.
// Program may hold more than one token, e.g. ["SOAPnuke", "filter"].
type Command struct {
	Program []string
	Args    []Arg
}

// interpreters whose second token names the script that actually runs
var interpreters = map[string]bool{
	"bash":    true,
	"sh":      true,
	"python":  true,
	"python3": true,
	"rscript": true,
	"perl":    true,
}

// Build renders prefix followed by each flag and, when present, its value,
// all separated by single spaces. No quoting or escaping is applied.
func Build(prefix string, params []Arg) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte(' ')
		b.WriteString(p.Flag)
		if p.Value != "" {
			b.WriteByte(' ')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// New creates a command for the given program tokens
func New(program ...string) *Command {
	return &Command{Program: program}
}

// Flag appends a flag without a value
func (c *Command) Flag(flag string) *Command {
	c.Args = append(c.Args, Arg{Flag: flag})
	return c
}

// Positional appends a bare argument such as an input path
func (c *Command) Positional(arg string) *Command {
	return c.Flag(arg)
}

// Set appends a flag with a string value
func (c *Command) Set(flag, value string) *Command {
	c.Args = append(c.Args, Arg{Flag: flag, Value: value})
	return c
}

// SetInt appends a flag with an integer value
func (c *Command) SetInt(flag string, value int) *Command {
	return c.Set(flag, Int(value))
}

// SetFloat appends a flag with a float value
func (c *Command) SetFloat(flag string, value float64) *Command {
	return c.Set(flag, Float(value))
}

// Int formats an integer argument value
func Int(v int) string {
	return strconv.Itoa(v)
}

// Float formats a float argument value in its shortest form (0.5, not 0.500000)
func Float(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// String renders the command as a single display line
func (c Command) String() string {
	return Build(strings.Join(c.Program, " "), c.Args)
}

// Argv returns the argument vector handed to the OS. Every flag and value is
// its own token, so values containing spaces or glob characters reach the
// program verbatim.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Program)+2*len(c.Args))
	argv = append(argv, c.Program...)
	for _, a := range c.Args {
		argv = append(argv, a.Flag)
		if a.Value != "" {
			argv = append(argv, a.Value)
		}
	}
	return argv
}

// ProgramName derives the short name used for log files. Scripts run through
// an interpreter are named "{interpreter}_{script}".
func (c Command) ProgramName() string {
	argv := c.Argv()
	if len(argv) == 0 {
		return "command"
	}
	first := filepath.Base(argv[0])
	if interpreters[strings.ToLower(first)] && len(argv) > 1 {
		return first + "_" + filepath.Base(argv[1])
	}
	return first
}
