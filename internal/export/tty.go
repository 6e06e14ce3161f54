package export

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// ErrTerminalOutput is returned when ciphertext would be written to a terminal.
var ErrTerminalOutput = errors.New("refusing to write encrypted export to a terminal; use -o FILE or redirect stdout")

// CheckOutput rejects f when it is an interactive terminal.
func CheckOutput(f *os.File) error {
	if term.IsTerminal(int(f.Fd())) {
		return ErrTerminalOutput
	}
	return nil
}

// ReadPassphrase prompts on stderr and reads a passphrase from the terminal
// without echo.
func ReadPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase prompt requires a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}
