package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// Reviewer decides whether a fully entered declaration may be submitted.
type Reviewer interface {
	Review(ctx context.Context, g model.TaxpayerGroup) (bool, error)
}

// AutoApprove approves every group.
type AutoApprove struct{}

func (AutoApprove) Review(context.Context, model.TaxpayerGroup) (bool, error) { return true, nil }

// PromptReviewer pauses before each submission so the operator can check
// the form, then reads a yes/no answer.
type PromptReviewer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptReviewer reads answers from in and writes prompts to out.
func NewPromptReviewer(in io.Reader, out io.Writer) *PromptReviewer {
	return &PromptReviewer{in: bufio.NewReader(in), out: out}
}

// Review prints the group and waits for the operator. An empty answer
// approves.
func (r *PromptReviewer) Review(ctx context.Context, g model.TaxpayerGroup) (bool, error) {
	fmt.Fprintf(r.out, "\n%s  %s  plano %s\n", g.Head.IdentityID, g.Head.DisplayName, g.Head.Amount)
	for _, d := range g.ParticipatingDependents() {
		fmt.Fprintf(r.out, "  - %s  %s  %s\n", d.IdentityID, d.RelationshipLabel, d.Amount)
	}
	fmt.Fprint(r.out, "Review the form in the browser. Submit? [S/n] ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := r.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && (a.err != io.EOF || a.line == "") {
			return false, eris.Wrap(a.err, "review: read answer")
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "", "s", "sim", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
