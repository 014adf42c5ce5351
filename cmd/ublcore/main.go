package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/internal"
	libublcore "github.com/loglinehq/ublcore/lib"
	"github.com/loglinehq/ublcore/lib/identity"
	"github.com/loglinehq/ublcore/lib/ledger"
	_ "github.com/loglinehq/ublcore/lib/ledger/all"
	"github.com/loglinehq/ublcore/lib/policy"
	"github.com/loglinehq/ublcore/lib/store"
	_ "github.com/loglinehq/ublcore/lib/store/all"
)

var (
	basePrefix               = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /ubl")
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	challengeTTL             = flag.Duration("challenge-ttl", ublcore.DefaultChallengeTTL, "how long an unconsumed challenge survives in the store")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign JWTs, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against UBL Core")
	ledgerBackend            = flag.String("ledger-backend", "memory", "ledger backend to use, one of: "+strings.Join(ledger.Methods(), ", "))
	ledgerConfig             = flag.String("ledger-config", "{}", "JSON configuration for the ledger backend")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	opTimeout                = flag.Duration("op-timeout", ublcore.DefaultOpTimeout, "bound on each policy or storage call made for a stream append")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	policyFname              = flag.String("policy-fname", "", "full path to the append admission policy document (defaults to allowing everything)")
	registryFname            = flag.String("registry-fname", "", "full path to the identity registry document (required)")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	storeBackend             = flag.String("store-backend", "memory", "challenge store backend to use, one of: "+strings.Join(store.Methods(), ", "))
	storeConfig              = flag.String("store-config", "{}", "JSON configuration for the challenge store backend")
	tokenTTL                 = flag.Duration("token-ttl", ublcore.DefaultTokenTTL, "lifetime of issued bearer tokens")
	versionFlag              = flag.Bool("version", false, "print UBL Core version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + ublcore.BasePrefix + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :8923
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	// additional permission handling for unix sockets
	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func buildStore(ctx context.Context) store.Interface {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		log.Fatalf("unknown store backend %q, wanted one of: %s", *storeBackend, strings.Join(store.Methods(), ", "))
	}

	result, err := factory.Build(ctx, json.RawMessage(*storeConfig))
	if err != nil {
		log.Fatalf("can't build store backend %s: %v", *storeBackend, err)
	}

	return result
}

func buildLedger(ctx context.Context) ledger.Sequencer {
	factory, ok := ledger.Get(*ledgerBackend)
	if !ok {
		log.Fatalf("unknown ledger backend %q, wanted one of: %s", *ledgerBackend, strings.Join(ledger.Methods(), ", "))
	}

	result, err := factory.Build(ctx, json.RawMessage(*ledgerConfig))
	if err != nil {
		log.Fatalf("can't build ledger backend %s: %v", *ledgerBackend, err)
	}

	return result
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("ublcore", ublcore.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	var priv ed25519.PrivateKey
	if *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "" {
		log.Fatal("do not specify both ed25519-private-key-hex and ed25519-private-key-hex-file")
	}

	switch {
	case *ed25519PrivateKeyHex != "":
		var err error
		priv, err = keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			log.Fatalf("failed to parse and validate ed25519-private-key-hex: %v", err)
		}
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			log.Fatalf("failed to read ed25519-private-key-hex-file: %v", err)
		}

		priv, err = keyFromHex(strings.TrimSpace(string(hexFile)))
		if err != nil {
			log.Fatalf("failed to parse and validate ed25519-private-key-hex-file: %v", err)
		}
	default:
		slog.Warn("generating a random token signing key, every outstanding bearer token dies with this process, set ed25519-private-key-hex or ed25519-private-key-hex-file")
	}

	if *registryFname == "" {
		log.Fatal("registry-fname is required, point it at the identity registry document")
	}

	registry, err := identity.LoadFile(*registryFname)
	if err != nil {
		log.Fatalf("can't load identity registry: %v", err)
	}

	engine := policy.Default()
	if *policyFname != "" {
		engine, err = policy.LoadFile(*policyFname)
		if err != nil {
			log.Fatalf("can't load admission policy: %v", err)
		}
	}

	wg := new(sync.WaitGroup)
	// install signal handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := libublcore.New(ctx, libublcore.Options{
		Store:             buildStore(ctx),
		Registry:          registry,
		Sequencer:         buildLedger(ctx),
		Policy:            engine,
		ED25519PrivateKey: priv,
		ChallengeTTL:      *challengeTTL,
		TokenTTL:          *tokenTTL,
		OpTimeout:         *opTimeout,
		BasePrefix:        *basePrefix,
	})
	if err != nil {
		log.Fatalf("can't construct server: %v", err)
	}

	go s.Run()

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{Handler: s, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", ublcore.Version,
		"store-backend", *storeBackend,
		"ledger-backend", *ledgerBackend,
		"registry-fname", *registryFname,
		"policy-fname", *policyFname,
		"policy-rules", engine.Len(),
		"base-prefix", *basePrefix,
		"challenge-ttl", *challengeTTL,
		"token-ttl", *tokenTTL,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(ublcore.BasePrefix+"/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
