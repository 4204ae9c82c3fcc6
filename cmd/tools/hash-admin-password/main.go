// Command hash-admin-password prints a password hash suitable for
// CONTENTHUB_ADMIN_PASSWORD_HASH, so the plain admin password never has to
// live in the server environment.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"contenthub/internal/auth"
)

const minPasswordLength = 8

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	fromStdin := flag.Bool("stdin", false, "read the password from standard input instead of prompting")
	flag.Parse()

	password, err := obtainPassword(*fromStdin, os.Stdin, os.Stderr)
	if err != nil {
		fatalf("read password: %v", err)
	}
	hash, err := hashPassword(password)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(hash)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func obtainPassword(fromStdin bool, in *os.File, prompt io.Writer) (string, error) {
	if fromStdin || !term.IsTerminal(int(in.Fd())) {
		return readLine(in)
	}
	first, err := promptSecret(int(in.Fd()), prompt, "Admin password: ")
	if err != nil {
		return "", err
	}
	second, err := promptSecret(int(in.Fd()), prompt, "Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}

func promptSecret(fd int, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	secret, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return auth.HashPassword(password)
}
