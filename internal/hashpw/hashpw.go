// Package hashpw implements the hashpw command: it reads a password and
// prints its argon2id hash using the server's configured work factor, for
// seeding accounts or resetting a password by hand.
package hashpw

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/tubeauth/internal/server/config"
	"github.com/dmitrijs2005/tubeauth/internal/server/password"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var ErrEmptyPassword = errors.New("empty password")

// ReadPassword reads a password without echo when fd is a terminal. Otherwise
// it reads a single line from r, so the command also works in pipelines.
func ReadPassword(w io.Writer, r io.Reader, fd int) ([]byte, error) {
	if isTerminal(fd) {
		if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
			return nil, err
		}
		pw, err := readPassword(fd)
		fmt.Fprintln(w)
		return pw, err
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// Run loads the server configuration from args, reads a password and writes
// its hash to out.
func Run(args []string, stdin io.Reader, stdinFd int, out, prompt io.Writer) error {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}

	pw, err := ReadPassword(prompt, stdin, stdinFd)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer clear(pw)

	if len(pw) == 0 {
		return ErrEmptyPassword
	}

	hasher := password.NewHasher(password.Params{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})

	hash, err := hasher.Hash(string(pw))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, hash)
	return err
}
