// Package lib wires the UBL Core components into one HTTP handler: the
// challenge-response handshake, the ledger read-back surface, and the
// real-time stream endpoint.
package lib

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loglinehq/ublcore/internal"
	"github.com/loglinehq/ublcore/lib/challenge"
	"github.com/loglinehq/ublcore/lib/identity"
	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/signature"
	"github.com/loglinehq/ublcore/lib/stream"
	"github.com/loglinehq/ublcore/lib/token"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_challenges_issued",
		Help: "The total number of authentication challenges issued",
	})

	challengesVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ublcore_challenges_verified",
		Help: "The total number of challenge verification attempts by outcome",
	}, []string{"result"})

	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_tokens_issued",
		Help: "The total number of bearer tokens issued",
	})

	ledgerReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ublcore_ledger_reads",
		Help: "The total number of ledger read-back requests by surface",
	}, []string{"surface"})
)

type Server struct {
	baseCtx    context.Context
	mux        *http.ServeMux
	challenges *challenge.Store
	registry   identity.Registry
	sequencer  ledger.Sequencer
	tokens     *token.Issuer
	hub        *stream.Hub
	gateway    *stream.Gateway
	opts       Options
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DID == "" {
		respondError(w, http.StatusBadRequest, errDIDRequired)
		return
	}

	chal, err := s.challenges.Issue(r.Context(), req.DID)
	if err != nil {
		lg.Error("can't issue challenge", "did", req.DID, "err", err)
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}

	challengesIssued.Inc()
	respondJSON(w, http.StatusOK, chal)
}

func (s *Server) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req struct {
		DID          string `json:"did"`
		Nonce        string `json:"nonce"`
		Signature    string `json:"signature"`
		ClientPubkey string `json:"client_pubkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.DID == "" || req.Nonce == "" || req.Signature == "" || req.ClientPubkey == "" {
		challengesVerified.WithLabelValues(errInvalidPayload).Inc()
		respondError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	fail := func(status int, kind string) {
		challengesVerified.WithLabelValues(kind).Inc()
		respondError(w, status, kind)
	}

	if _, err := s.challenges.Peek(r.Context(), req.DID, req.Nonce); err != nil {
		if !errors.Is(err, challenge.ErrMismatch) {
			lg.Error("can't read challenge", "did", req.DID, "err", err)
			fail(http.StatusInternalServerError, errInternal)
			return
		}

		fail(http.StatusUnauthorized, errInvalidChallenge)
		return
	}

	ident, err := s.registry.Lookup(r.Context(), req.DID)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			lg.Error("registry lookup failed", "did", req.DID, "err", err)
			fail(http.StatusInternalServerError, errInternal)
			return
		}

		fail(http.StatusNotFound, errEntityNotFound)
		return
	}

	if req.ClientPubkey != ident.PublicKey {
		fail(http.StatusUnauthorized, errPublicKeyMismatch)
		return
	}

	// The client signs the nonce string's UTF-8 bytes.
	switch err := signature.VerifyDetached([]byte(req.Nonce), req.Signature, req.ClientPubkey); {
	case errors.Is(err, signature.ErrBadSignatureFormat):
		fail(http.StatusBadRequest, errInvalidSignatureFormat)
		return
	case errors.Is(err, signature.ErrBadPublicKeyFormat):
		fail(http.StatusBadRequest, errInvalidPublicKeyFormat)
		return
	case errors.Is(err, signature.ErrVerifyFailed):
		fail(http.StatusUnauthorized, errInvalidSignature)
		return
	case err != nil:
		lg.Error("signature verification errored", "did", req.DID, "err", err)
		fail(http.StatusInternalServerError, errInternal)
		return
	}

	// Single use: the nonce dies with the success that consumed it.
	if err := s.challenges.Consume(r.Context(), req.DID, req.Nonce); err != nil {
		if errors.Is(err, challenge.ErrMismatch) {
			fail(http.StatusUnauthorized, errInvalidChallenge)
			return
		}

		lg.Error("can't consume challenge", "did", req.DID, "err", err)
		fail(http.StatusInternalServerError, errInternal)
		return
	}

	tok, err := s.tokens.Issue(req.DID)
	if err != nil {
		lg.Error("can't issue token", "did", req.DID, "err", err)
		fail(http.StatusInternalServerError, errInternal)
		return
	}

	challengesVerified.WithLabelValues("ok").Inc()
	tokensIssued.Inc()

	respondJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{Token: tok})
}

// queryInt64 parses an optional integer query parameter.
func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	return strconv.ParseInt(raw, 10, 64)
}

func (s *Server) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	ledgerReads.WithLabelValues("entries").Inc()

	after, err := queryInt64(r, "after")
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	limit, err := queryInt64(r, "limit")
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	entries, err := s.sequencer.Entries(r.Context(), after, int(limit))
	if err != nil {
		lg.Error("can't read entries", "after", after, "err", err)
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}

	if entries == nil {
		entries = []ledger.Entry{}
	}

	respondJSON(w, http.StatusOK, struct {
		Entries []ledger.Entry `json:"entries"`
	}{Entries: entries})
}

func (s *Server) ledgerHead(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	ledgerReads.WithLabelValues("head").Inc()

	head, err := s.sequencer.Head(r.Context())
	if err != nil {
		lg.Error("can't read head", "err", err)
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		LatestHash string `json:"latest_hash"`
	}{LatestHash: head})
}

func (s *Server) ledgerVerify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	ledgerReads.WithLabelValues("verify").Inc()

	report, err := ledger.Verify(r.Context(), s.sequencer)
	if err != nil {
		lg.Error("can't verify chain", "err", err)
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}

	respondJSON(w, http.StatusOK, report)
}
