// Command keygen generates an RSA actor keypair and prints both PEM
// blocks, for seeding an instance or person out of band.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"os"

	"github.com/loreweave/loreweave/internal/directory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bits := flag.Int("bits", 2048, "RSA key size")
	flag.Parse()

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	private, public, err := directory.EncodeKeyPair(key)
	if err != nil {
		return err
	}

	fmt.Print(private)
	fmt.Print(public)
	return nil
}
