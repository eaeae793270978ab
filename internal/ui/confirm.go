package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cfschilham/kryer/internal/binary"
	"github.com/manifoldco/promptui"
)

type answer struct {
	ok  bool
	err error
}

// PromptConfirmer asks on the terminal with a [Y/n] prompt that defaults to
// yes. Ctrl+C cancels the run.
type PromptConfirmer struct {
	// run executes the prompt; tests replace it.
	run func(p *promptui.Prompt) (string, error)
}

// NewPromptConfirmer returns a confirmer backed by promptui.
func NewPromptConfirmer() *PromptConfirmer {
	return &PromptConfirmer{run: func(p *promptui.Prompt) (string, error) { return p.Run() }}
}

// Confirm implements binary.Confirmer. Once ctx is cancelled Confirm returns
// at once, even though the prompt goroutine may still be reading.
func (c *PromptConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	prompt := &promptui.Prompt{
		Label:     question,
		IsConfirm: true,
		Default:   "y",
	}

	done := make(chan answer, 1)
	go func() {
		_, err := c.run(prompt)
		done <- interpretPrompt(err)
	}()

	return wait(ctx, done)
}

func interpretPrompt(err error) answer {
	switch {
	case err == nil:
		return answer{ok: true}
	case errors.Is(err, promptui.ErrAbort), errors.Is(err, promptui.ErrEOF), errors.Is(err, io.EOF):
		return answer{ok: false}
	case errors.Is(err, promptui.ErrInterrupt):
		return answer{err: fmt.Errorf("%w: %w", binary.ErrCancelled, err)}
	default:
		return answer{err: fmt.Errorf("prompt: %w", err)}
	}
}

// ReaderConfirmer asks on a plain stream, for when stdin is not a terminal.
// An empty line means yes; end of input means no.
type ReaderConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewReaderConfirmer returns a confirmer that writes the question to out and
// reads one line from in.
func NewReaderConfirmer(in io.Reader, out io.Writer) *ReaderConfirmer {
	return &ReaderConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm implements binary.Confirmer.
func (c *ReaderConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(c.out, "%s [Y/n] ", question)

	done := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		switch {
		case err == nil, errors.Is(err, io.EOF) && line != "":
			done <- answer{ok: parseYes(line)}
		case errors.Is(err, io.EOF):
			done <- answer{ok: false}
		default:
			done <- answer{err: fmt.Errorf("read answer: %w", err)}
		}
	}()

	return wait(ctx, done)
}

// parseYes accepts an empty answer, y and yes.
func parseYes(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}

func wait(ctx context.Context, done <-chan answer) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %w", binary.ErrCancelled, ctx.Err())
	case a := <-done:
		return a.ok, a.err
	}
}

// AutoConfirmer answers every question with a fixed value.
type AutoConfirmer bool

// Confirm implements binary.Confirmer.
func (a AutoConfirmer) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", binary.ErrCancelled, err)
	}
	return bool(a), nil
}
