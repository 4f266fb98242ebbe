// Command keyvault encrypts a wallet private key into a password-protected
// key file and checks that an existing key file decrypts.
//
//	keyvault encrypt -out keys/wallet.json   (key from POLY_PRIVATE_KEY)
//	keyvault verify  -in  keys/wallet.json
//
// The password is read from POLYBOT_KEY_PASSWORD.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
)

const defaultKeyPath = "keys/wallet.json"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		logger.Error("keyvault failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: keyvault encrypt|verify [flags]")
	}

	password := getenv("POLYBOT_KEY_PASSWORD")
	if password == "" {
		return errors.New("POLYBOT_KEY_PASSWORD is not set")
	}

	switch args[0] {
	case "encrypt":
		fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
		path := fs.String("out", defaultKeyPath, "key file to write")
		force := fs.Bool("force", false, "overwrite an existing key file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		raw := getenv("POLY_PRIVATE_KEY")
		if raw == "" {
			raw = getenv("POLYBOT_WALLET_PRIVATE_KEY")
		}
		key, err := crypto.VerifyPrivateKey(raw)
		if err != nil {
			return err
		}
		if _, err := os.Stat(*path); err == nil && !*force {
			return fmt.Errorf("%s already exists, pass -force to overwrite", *path)
		}
		if err := crypto.SaveKeyFile(*path, key, password); err != nil {
			return err
		}
		addr, err := address(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "encrypted key for %s written to %s\n", addr, *path)
		return nil

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ContinueOnError)
		path := fs.String("in", defaultKeyPath, "key file to check")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		key, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: *path, KeyPassword: password})
		if err != nil {
			return err
		}
		addr, err := address(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s decrypts to %s\n", *path, addr)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func address(key string) (string, error) {
	signer, err := crypto.NewSigner(key, crypto.PolygonChainID, "")
	if err != nil {
		return "", err
	}
	return signer.Address().Hex(), nil
}
