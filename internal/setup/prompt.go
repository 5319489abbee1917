// Package setup implements "fuelrelay setup", the first-run wizard that checks
// the database and writes config.yaml.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var errNoInput = errors.New("no input")

// Prompter asks questions on w and reads one answer per line from r.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter returns a Prompter over r and w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(r), out: w}
}

// ask prints the question and returns the trimmed answer. ok is false once
// the input is exhausted.
func (p *Prompter) ask(format string, args ...any) (answer string, ok bool) {
	_, _ = fmt.Fprintf(p.out, "  "+format+": ", args...)
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

func (p *Prompter) note(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, "  ("+format+")\n", args...)
}

// String asks for a value; an empty answer takes def. Without a default the
// question repeats until answered. At end of input def is returned.
func (p *Prompter) String(label, def string) string {
	question := label
	if def != "" {
		question = fmt.Sprintf("%s [%s]", label, def)
	}
	for {
		v, ok := p.ask("%s", question)
		switch {
		case !ok:
			return def
		case v != "":
			return v
		case def != "":
			return def
		}
		p.note("required, please enter a value")
	}
}

// Secret asks for a required sensitive value. Input is echoed.
func (p *Prompter) Secret(label string) string {
	return p.String(label, "")
}

// Confirm asks a yes/no question; an empty answer takes def.
func (p *Prompter) Confirm(label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	v, ok := p.ask("%s [%s]", label, hint)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Select lists options and returns the zero-based index picked.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("select: no options")
	}

	_, _ = fmt.Fprintf(p.out, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.out, "    %d) %s\n", i+1, opt)
	}

	for {
		v, ok := p.ask("Choice [1-%d]", len(options))
		if !ok {
			return -1, errNoInput
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		p.note("enter a number between 1 and %d", len(options))
	}
}
