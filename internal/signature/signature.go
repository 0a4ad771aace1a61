// Package signature signs and verifies outbound webhook payloads with HMAC.
//
// Supported header styles:
//
//	simple  X-Webhook-Signature: {hex}
//	github  X-Hub-Signature-256: sha256={hex}
//	stripe  Stripe-Signature:    t={unix},v1={hex}   (HMAC over "{unix}.{payload}")
//	base64  X-Webhook-Signature: {base64}
//	multi   X-Webhook-Signature: sha256={hex},sha512={hex}
//
// All verification uses constant-time comparison and reports malformed input as
// an invalid signature rather than an error.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSimple = "X-Webhook-Signature"
	HeaderGitHub = "X-Hub-Signature-256"
	HeaderStripe = "Stripe-Signature"

	// DefaultTolerance bounds how old a Stripe-style timestamp may be.
	DefaultTolerance = 300 * time.Second
)

// Style names a signing scheme.
type Style string

const (
	StyleSimple Style = "simple"
	StyleGitHub Style = "github"
	StyleStripe Style = "stripe"
	StyleBase64 Style = "base64"
	StyleMulti  Style = "multi"
)

// ParseStyle normalises a configured style name. Empty means simple; any
// other unrecognised name is an error.
func ParseStyle(name string) (Style, error) {
	s := Style(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case "":
		return StyleSimple, nil
	case StyleSimple, StyleGitHub, StyleStripe, StyleBase64, StyleMulti:
		return s, nil
	default:
		return "", fmt.Errorf("unknown signature style %q", name)
	}
}

// Header returns the HTTP header the style is carried in.
func (s Style) Header() string {
	switch Style(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StyleGitHub:
		return HeaderGitHub
	case StyleStripe:
		return HeaderStripe
	default:
		return HeaderSimple
	}
}

// Algorithm names an HMAC hash for the multi-algorithm variant.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// MultiAlgorithms are the digests StyleMulti signs with.
var MultiAlgorithms = []Algorithm{SHA256, SHA512}

func (a Algorithm) hasher() (func() hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q", a)
	}
}

func mac(h func() hash.Hash, secret, payload []byte) []byte {
	m := hmac.New(h, secret)
	m.Write(payload)
	return m.Sum(nil)
}

// Simple returns the hex HMAC-SHA256 of payload.
func Simple(payload, secret []byte) string {
	return hex.EncodeToString(mac(sha256.New, secret, payload))
}

// GitHub returns "sha256={hex}".
func GitHub(payload, secret []byte) string {
	return "sha256=" + Simple(payload, secret)
}

// Stripe returns "t={ts},v1={hex}" where the HMAC covers "{ts}.{payload}".
// A zero ts means now.
func Stripe(payload, secret []byte, ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, stripeDigest(payload, secret, unix))
}

func stripeDigest(payload, secret []byte, unix int64) string {
	signed := make([]byte, 0, len(payload)+21)
	signed = strconv.AppendInt(signed, unix, 10)
	signed = append(signed, '.')
	signed = append(signed, payload...)
	return hex.EncodeToString(mac(sha256.New, secret, signed))
}

// Base64 returns the base64-encoded HMAC-SHA256 of payload.
func Base64(payload, secret []byte) string {
	return base64.StdEncoding.EncodeToString(mac(sha256.New, secret, payload))
}

// Multi computes one hex HMAC per algorithm and joins them as "alg=sig,alg=sig".
func Multi(payload, secret []byte, algs ...Algorithm) (string, error) {
	if len(algs) == 0 {
		algs = []Algorithm{SHA256}
	}
	parts := make([]string, 0, len(algs))
	for _, a := range algs {
		h, err := a.hasher()
		if err != nil {
			return "", err
		}
		parts = append(parts, string(a)+"="+hex.EncodeToString(mac(h, secret, payload)))
	}
	return strings.Join(parts, ","), nil
}

// VerifySimple checks a hex HMAC-SHA256 signature.
func VerifySimple(payload, secret []byte, sig string) bool {
	return equal(Simple(payload, secret), strings.TrimSpace(sig))
}

// VerifyGitHub checks a "sha256={hex}" header.
func VerifyGitHub(payload, secret []byte, header string) bool {
	return equal(GitHub(payload, secret), strings.TrimSpace(header))
}

// VerifyBase64 checks a base64 HMAC-SHA256 signature.
func VerifyBase64(payload, secret []byte, sig string) bool {
	return equal(Base64(payload, secret), strings.TrimSpace(sig))
}

// VerifyMulti checks every "alg=sig" pair in header; all must match and at least one must be present.
func VerifyMulti(payload, secret []byte, header string) bool {
	pairs := strings.Split(header, ",")
	checked := 0
	for _, pair := range pairs {
		alg, sig, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return false
		}
		h, err := Algorithm(alg).hasher()
		if err != nil {
			return false
		}
		if !equal(hex.EncodeToString(mac(h, secret, payload)), sig) {
			return false
		}
		checked++
	}
	return checked > 0
}

// VerifyStripe checks a Stripe-style header with DefaultTolerance against the current time.
func VerifyStripe(payload, secret []byte, header string) bool {
	return Verifier{}.VerifyStripe(payload, secret, header)
}

// Verifier holds the clock and replay window for Stripe-style verification.
// The zero value uses time.Now and DefaultTolerance.
type Verifier struct {
	Tolerance time.Duration
	Now       func() time.Time
}

// VerifyStripe parses "t=..,v1=.." and accepts the header when any v1 signature
// matches and the timestamp is within the tolerance window of now.
func (v Verifier) VerifyStripe(payload, secret []byte, header string) bool {
	ts, sigs, ok := parseStripeHeader(header)
	if !ok {
		return false
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	// Whole seconds: a Duration would saturate for far-off timestamps.
	window := int64(tolerance / time.Second)
	nowUnix := now().Unix()
	if ts < nowUnix-window || ts > nowUnix+window {
		return false
	}

	expected := stripeDigest(payload, secret, ts)
	matched := false
	for _, sig := range sigs {
		// Keep comparing after a match so timing does not depend on position.
		if equal(expected, sig) {
			matched = true
		}
	}
	return matched
}

func parseStripeHeader(header string) (int64, []string, bool) {
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			ts, hasTS = n, true
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, false
	}
	return ts, sigs, true
}

// Sign produces the header name and value for style. The style name is
// normalised with ParseStyle; an unknown style is an error.
func Sign(style Style, payload, secret []byte, now time.Time) (header, value string, err error) {
	style, err = ParseStyle(string(style))
	if err != nil {
		return "", "", err
	}
	switch style {
	case StyleGitHub:
		return HeaderGitHub, GitHub(payload, secret), nil
	case StyleStripe:
		return HeaderStripe, Stripe(payload, secret, now), nil
	case StyleBase64:
		return HeaderSimple, Base64(payload, secret), nil
	case StyleMulti:
		value, err = Multi(payload, secret, MultiAlgorithms...)
		if err != nil {
			return "", "", err
		}
		return HeaderSimple, value, nil
	default:
		return HeaderSimple, Simple(payload, secret), nil
	}
}

// Verify dispatches to the verifier for style. An unknown style never verifies.
func (v Verifier) Verify(style Style, payload, secret []byte, header string) bool {
	style, err := ParseStyle(string(style))
	if err != nil {
		return false
	}
	switch style {
	case StyleGitHub:
		return VerifyGitHub(payload, secret, header)
	case StyleStripe:
		return v.VerifyStripe(payload, secret, header)
	case StyleBase64:
		return VerifyBase64(payload, secret, header)
	case StyleMulti:
		return VerifyMulti(payload, secret, header)
	default:
		return VerifySimple(payload, secret, header)
	}
}

func equal(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
