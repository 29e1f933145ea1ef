package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/pitabwire/operations/model"
)

// Prompter asks for confirmation on a terminal. Without a terminal on the
// input side every prompt is dismissed unless answers were preset.
type Prompter struct {
	in           *bufio.Reader
	out          io.Writer
	interactive  bool
	readPassword func() (string, error)
	assumeYes    bool
	preset       string
}

// PrompterOption configures a Prompter.
type PrompterOption func(*Prompter)

// WithAssumeYes confirms plain prompts without asking.
func WithAssumeYes(yes bool) PrompterOption {
	return func(p *Prompter) { p.assumeYes = yes }
}

// WithPresetCredential answers the first credential prompt of a run with
// value. Later attempts, after a rejection, ask interactively.
func WithPresetCredential(value string) PrompterOption {
	return func(p *Prompter) { p.preset = value }
}

// WithInteractive overrides terminal detection.
func WithInteractive(interactive bool) PrompterOption {
	return func(p *Prompter) { p.interactive = interactive }
}

// WithPasswordReader replaces the hidden password input.
func WithPasswordReader(fn func() (string, error)) PrompterOption {
	return func(p *Prompter) { p.readPassword = fn }
}

// NewPrompter creates a Prompter reading from in and writing to out. When in
// is a terminal, passwords are read without echo.
func NewPrompter(in io.Reader, out io.Writer, opts ...PrompterOption) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok {
		fd := f.Fd()
		p.interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		p.readPassword = func() (string, error) {
			b, err := term.ReadPassword(int(fd))
			fmt.Fprintln(p.out)
			return string(b), err
		}
	}
	if p.readPassword == nil {
		p.readPassword = p.readLine
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prompt shows the confirmation and collects the credential it needs.
func (p *Prompter) Prompt(_ context.Context, req model.ConfirmationRequest) (model.ConfirmationResponse, error) {
	name := ""
	if req.Operation != nil {
		name = req.Operation.DisplayName()
	}

	if req.Password == nil {
		if p.assumeYes {
			return model.ConfirmationResponse{Confirmed: true}, nil
		}
		if !p.interactive {
			return model.ConfirmationResponse{}, nil
		}
		fmt.Fprintf(p.out, "%s\n%s [y/N] ", heading(name, req.Message), "Proceed?")
		answer, err := p.readLine()
		if err != nil {
			return model.ConfirmationResponse{}, nil
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return model.ConfirmationResponse{Confirmed: true}, nil
		}
		return model.ConfirmationResponse{}, nil
	}

	if p.preset != "" && req.Attempt <= 1 {
		return model.ConfirmationResponse{
			Confirmed:  true,
			Credential: model.Credential{Kind: req.Password.Kind, Value: p.preset},
		}, nil
	}
	if !p.interactive {
		return model.ConfirmationResponse{}, nil
	}

	if req.Attempt > 1 {
		fmt.Fprintln(p.out, "The credential was rejected, try again.")
	}
	fmt.Fprintln(p.out, heading(name, req.Message))
	if req.Password.Description != "" {
		fmt.Fprintln(p.out, req.Password.Description)
	}

	var (
		value string
		err   error
	)
	switch req.Password.Kind {
	case model.CredentialDevice:
		fmt.Fprint(p.out, "Approve on your device and enter the confirmation code: ")
		value, err = p.readLine()
	case model.CredentialPassword:
		fmt.Fprintf(p.out, "%s: ", label(req.Password.Name, "Password"))
		value, err = p.readPassword()
	default:
		fmt.Fprintf(p.out, "%s: ", label(req.Password.Name, "Credential"))
		value, err = p.readPassword()
	}
	if err != nil {
		return model.ConfirmationResponse{}, nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return model.ConfirmationResponse{}, nil
	}
	return model.ConfirmationResponse{
		Confirmed:  true,
		Credential: model.Credential{Kind: req.Password.Kind, Value: value},
	}, nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func heading(name, message string) string {
	switch {
	case name != "" && message != "":
		return name + ": " + message
	case message != "":
		return message
	default:
		return "Run " + name + "?"
	}
}

func label(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
