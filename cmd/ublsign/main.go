// Command ublsign is the operator-side companion to ublcore: it
// generates client keypairs and produces the hex signatures and entry
// hashes the handshake and append flows expect, so the whole system can
// be driven from a shell.
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/loglinehq/ublcore/lib/ledger"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  keygen                     generate an ed25519 keypair (hex seed + public key)
  sign-nonce                 sign a challenge nonce for /api/v1/auth/verify
  sign-entry                 hash and sign a ledger entry for ledger:append

Run %s <command> -h for command options.
`, os.Args[0], os.Args[0])
	os.Exit(2)
}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "keygen":
		keygen(os.Args[2:])
	case "sign-nonce":
		signNonce(os.Args[2:])
	case "sign-entry":
		signEntry(os.Args[2:])
	default:
		usage()
	}
}

func loadKey(keyHex, keyFile string) ed25519.PrivateKey {
	if keyHex != "" && keyFile != "" {
		log.Fatal("do not specify both -key and -key-file")
	}

	if keyFile != "" {
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			log.Fatalf("can't read key file: %v", err)
		}
		keyHex = strings.TrimSpace(string(raw))
	}

	if keyHex == "" {
		log.Fatal("a signing key is required, pass -key or -key-file")
	}

	seed, err := hex.DecodeString(keyHex)
	if err != nil {
		log.Fatalf("key is not hex: %v", err)
	}

	if len(seed) != ed25519.SeedSize {
		log.Fatalf("key is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(seed)
}

func keygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	fs.Parse(args)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("can't generate keypair: %v", err)
	}

	fmt.Printf("private_key: %s\n", hex.EncodeToString(priv.Seed()))
	fmt.Printf("public_key:  %s\n", hex.EncodeToString(pub))
}

func signNonce(args []string) {
	fs := flag.NewFlagSet("sign-nonce", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex-encoded ed25519 seed")
	keyFile := fs.String("key-file", "", "file containing the hex-encoded seed")
	nonce := fs.String("nonce", "", "nonce from /api/v1/auth/challenge")
	fs.Parse(args)

	if *nonce == "" {
		log.Fatal("-nonce is required")
	}

	priv := loadKey(*keyHex, *keyFile)

	// The server verifies over the nonce string's UTF-8 bytes.
	sig := ed25519.Sign(priv, []byte(*nonce))
	fmt.Println(hex.EncodeToString(sig))
}

func signEntry(args []string) {
	fs := flag.NewFlagSet("sign-entry", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex-encoded ed25519 seed")
	keyFile := fs.String("key-file", "", "file containing the hex-encoded seed")
	prevHash := fs.String("prev-hash", ledger.ZeroHash, "entry_hash of the current chain head")
	sender := fs.String("sender", "", "sender DID")
	payloadJSON := fs.String("payload", "{}", "payload as a JSON object")
	timestamp := fs.String("timestamp", "", "client timestamp, e.g. 2026-08-28T00:00:00.000Z")
	fs.Parse(args)

	if *sender == "" {
		log.Fatal("-sender is required")
	}

	if *timestamp == "" {
		log.Fatal("-timestamp is required")
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(*payloadJSON)))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		log.Fatalf("payload is not a JSON object: %v", err)
	}

	hash, err := ledger.EntryHash(*prevHash, *sender, payload, *timestamp)
	if err != nil {
		log.Fatalf("can't hash entry: %v", err)
	}

	priv := loadKey(*keyHex, *keyFile)
	sig := ed25519.Sign(priv, []byte(hash))

	fmt.Printf("entry_hash: %s\n", hash)
	fmt.Printf("signature:  %s\n", hex.EncodeToString(sig))
}
