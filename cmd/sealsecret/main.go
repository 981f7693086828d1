// Command sealsecret encrypts the trading terminal password into the file
// referenced by terminal.password_file.
//
//	ALERTBRIDGE_SEAL_PASSPHRASE=... sealsecret -out terminal.secret < password.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/alertbridge/internal/crypto"
)

func main() {
	out := flag.String("out", "terminal.secret", "file to write the sealed secret to")
	secret := flag.String("secret", "", "secret to seal (default: first line of stdin)")
	passphrase := flag.String("passphrase", "", "passphrase (default: $ALERTBRIDGE_SEAL_PASSPHRASE)")
	flag.Parse()

	if err := run(*out, *secret, *passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "sealsecret: %v\n", err)
		os.Exit(1)
	}
}

func run(out, secret, passphrase string) error {
	if passphrase == "" {
		passphrase = os.Getenv("ALERTBRIDGE_SEAL_PASSPHRASE")
	}
	if passphrase == "" {
		return fmt.Errorf("no passphrase: use -passphrase or ALERTBRIDGE_SEAL_PASSPHRASE")
	}
	if secret == "" {
		sc := bufio.NewScanner(os.Stdin)
		if sc.Scan() {
			secret = strings.TrimRight(sc.Text(), "\r\n")
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	sealed, err := crypto.SealSecret(secret, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	// Round-trip so a typo in the passphrase is not discovered at startup.
	if _, err := crypto.LoadSecret(crypto.SecretSource{File: out, Passphrase: passphrase}); err != nil {
		return fmt.Errorf("verify %s: %w", out, err)
	}
	fmt.Printf("sealed secret written to %s\n", out)
	return nil
}
