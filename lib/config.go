package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/lib/challenge"
	"github.com/loglinehq/ublcore/lib/identity"
	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/policy"
	"github.com/loglinehq/ublcore/lib/store"
	"github.com/loglinehq/ublcore/lib/stream"
	"github.com/loglinehq/ublcore/lib/token"
)

// Options configures a Server. Store, Registry, and Sequencer are
// required; everything else has a default.
type Options struct {
	// Store backs the challenge store.
	Store store.Interface

	// Registry resolves DIDs to registered public keys.
	Registry identity.Registry

	// Sequencer is the ledger backend.
	Sequencer ledger.Sequencer

	// Policy is the append admission engine. Nil means allow everything.
	Policy *policy.Engine

	// ED25519PrivateKey signs bearer tokens. Generated when nil, which
	// invalidates outstanding tokens across restarts.
	ED25519PrivateKey ed25519.PrivateKey

	ChallengeTTL time.Duration
	TokenTTL     time.Duration

	// OpTimeout bounds each policy or storage call made for a stream
	// append. Zero means ublcore.DefaultOpTimeout.
	OpTimeout time.Duration

	BasePrefix string
}

// New builds a Server. ctx bounds all background work the server does;
// cancel it to shut down. Call Run before serving traffic.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("lib: Options.Store is required")
	}

	if opts.Registry == nil {
		return nil, fmt.Errorf("lib: Options.Registry is required")
	}

	if opts.Sequencer == nil {
		return nil, fmt.Errorf("lib: Options.Sequencer is required")
	}

	if opts.ED25519PrivateKey == nil {
		slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %w", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}

	ublcore.BasePrefix = opts.BasePrefix

	hub := stream.NewHub()
	tokens := token.NewIssuer(opts.ED25519PrivateKey, opts.TokenTTL)

	result := &Server{
		baseCtx:    ctx,
		challenges: challenge.NewStore(opts.Store, opts.ChallengeTTL),
		registry:   opts.Registry,
		sequencer:  opts.Sequencer,
		tokens:     tokens,
		hub:        hub,
		gateway:    stream.NewGateway(ctx, hub, opts.Sequencer, opts.Policy, tokens, opts.OpTimeout),
		opts:       opts,
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		basePrefix := strings.TrimSuffix(ublcore.BasePrefix, "/")
		mux.Handle(method+basePrefix+pattern, handler)
	}

	registerWithPrefix(ublcore.APIPrefix+"/auth/challenge", http.HandlerFunc(result.createChallenge), "POST")
	registerWithPrefix(ublcore.APIPrefix+"/auth/verify", http.HandlerFunc(result.verifyChallenge), "POST")
	registerWithPrefix(ublcore.APIPrefix+"/ledger/entries", http.HandlerFunc(result.ledgerEntries), "GET")
	registerWithPrefix(ublcore.APIPrefix+"/ledger/head", http.HandlerFunc(result.ledgerHead), "GET")
	registerWithPrefix(ublcore.APIPrefix+"/ledger/verify", http.HandlerFunc(result.ledgerVerify), "GET")
	registerWithPrefix(ublcore.StreamPath, result.gateway, "GET")

	result.mux = mux

	return result, nil
}

// Run drives the broadcast hub until the context given to New is
// canceled. Call it in its own goroutine before serving traffic.
func (s *Server) Run() {
	s.hub.Run(s.baseCtx)
}
