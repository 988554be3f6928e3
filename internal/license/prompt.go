package license

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Credentials is the pair collected from the user before verification.
type Credentials struct {
	LicenseKey string
	Email      string
}

// Prompter collects a license key and email from the user. A nil
// result with a nil error means the user declined; the verification
// flow fails immediately in that case.
type Prompter interface {
	Prompt(ctx context.Context, defaultEmail string) (*Credentials, error)
}

// ConsolePrompter reads credentials from an interactive console.
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewConsolePrompter returns a prompter bound to stdin/stderr.
func NewConsolePrompter() *ConsolePrompter {
	return &ConsolePrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt asks for a license key and an optional email. An empty key or
// a closed input stream is treated as a cancellation.
func (p *ConsolePrompter) Prompt(ctx context.Context, defaultEmail string) (*Credentials, error) {
	reader := bufio.NewReader(p.In)

	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, "=== Financial Command Center License Verification ===")

	fmt.Fprint(p.Out, "License key: ")
	key, err := readLine(reader)
	if err != nil {
		return nil, nil
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, nil
	}

	emailHint := defaultEmail
	if emailHint == "" {
		emailHint = "optional"
	}
	fmt.Fprintf(p.Out, "Registered email [%s]: ", emailHint)
	email, err := readLine(reader)
	if err != nil {
		return nil, nil
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = defaultEmail
	}

	return &Credentials{LicenseKey: key, Email: email}, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

// StaticPrompter returns fixed credentials once, then declines. It
// backs the non-interactive -key flag of the CLI.
type StaticPrompter struct {
	LicenseKey string
	Email      string
	used       bool
}

// Prompt hands out the configured credentials on the first call only,
// so a rejected key fails the flow instead of looping on it.
func (p *StaticPrompter) Prompt(ctx context.Context, defaultEmail string) (*Credentials, error) {
	if p.used || p.LicenseKey == "" {
		return nil, nil
	}
	p.used = true
	email := p.Email
	if email == "" {
		email = defaultEmail
	}
	return &Credentials{LicenseKey: strings.ToUpper(strings.TrimSpace(p.LicenseKey)), Email: email}, nil
}
