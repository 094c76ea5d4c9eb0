// Package signature canonicalizes HTTP requests and computes HMAC-SHA256
// signatures over them. Signer and verifier must be configured with the
// same signed-header list or every signature fails.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/centra-sso/centra/pkg/common"
)

// RequestContext carries exactly the request fields the engine needs,
// independent of any web framework's request type.
type RequestContext struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Header returns a header value by case-insensitive name, trimmed.
func (rc RequestContext) Header(name string) string {
	name = strings.ToLower(name)

	for k, v := range rc.Headers {
		if strings.ToLower(k) == name {
			return strings.TrimSpace(v)
		}
	}

	return ""
}

// Verification reasons.
const (
	ReasonMissingSignature   = "missing_signature"
	ReasonMismatch           = "mismatch"
	ReasonMalformedTimestamp = "malformed_timestamp"
	ReasonBadAlgorithm       = "unsupported_algorithm"
)

// VerifyResult reports the outcome of a signature check. Malformed input
// is an invalid result with a reason, never an error.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Engine signs and verifies requests over a fixed signed-header list.
type Engine struct {
	signedHeaders []string
}

// NewEngine builds an engine over the given signed-header names. Names are
// lowercased and sorted once so canonicalization is order-deterministic.
func NewEngine(signedHeaders []string) *Engine {
	names := make([]string, 0, len(signedHeaders))
	for _, h := range signedHeaders {
		names = append(names, strings.ToLower(strings.TrimSpace(h)))
	}

	sort.Strings(names)

	return &Engine{signedHeaders: names}
}

// SignedHeaders returns the configured header list.
func (e *Engine) SignedHeaders() []string {
	return append([]string(nil), e.signedHeaders...)
}

// BodySHA256Hex is the hex SHA-256 digest of the raw body. An empty body
// hashes to the digest of the empty string.
func BodySHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalString serializes a request as
//
//	METHOD\nPATH\n\nHEADER_LINES\nSIGNED_HEADER_NAMES\nBODYHASH
//
// where HEADER_LINES is each signed header as "name:trimmed_value\n" in
// sorted order and SIGNED_HEADER_NAMES is those names joined by ";".
// A signed header absent from the request contributes an empty value.
// The query string is not part of the signature base.
func (e *Engine) CanonicalString(rc RequestContext) string {
	var b strings.Builder

	b.WriteString(strings.ToUpper(rc.Method))
	b.WriteString("\n")
	b.WriteString(rc.Path)
	b.WriteString("\n\n")

	for _, name := range e.signedHeaders {
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(rc.Header(name))
		b.WriteString("\n")
	}

	b.WriteString(strings.Join(e.signedHeaders, ";"))
	b.WriteString("\n")
	b.WriteString(BodySHA256Hex(rc.Body))

	return b.String()
}

// Sign returns the hex HMAC-SHA256 of the canonical request string.
func (e *Engine) Sign(rc RequestContext, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(e.CanonicalString(rc)))

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the canonical signature for an inbound request and
// compares it against the provided one in constant time. A request without
// a signature header is always invalid.
func (e *Engine) Verify(rc RequestContext, providedSignature, secret string) VerifyResult {
	if providedSignature == "" {
		return VerifyResult{Valid: false, Reason: ReasonMissingSignature}
	}

	if alg := rc.Header(common.HeaderSignatureAlgorithm); alg != "" && alg != common.SignatureAlgorithm {
		return VerifyResult{Valid: false, Reason: ReasonBadAlgorithm}
	}

	if ts := rc.Header(common.HeaderTimestamp); ts != "" {
		if _, err := time.Parse(common.TimestampLayout, ts); err != nil {
			return VerifyResult{Valid: false, Reason: ReasonMalformedTimestamp}
		}
	}

	expected := e.Sign(rc, secret)

	if !hmac.Equal([]byte(expected), []byte(providedSignature)) {
		return VerifyResult{Valid: false, Reason: ReasonMismatch}
	}

	return VerifyResult{Valid: true}
}

// FromHTTPRequest extracts a RequestContext from an inbound request. The
// body is consumed and restored so downstream handlers can still read it.
func FromHTTPRequest(r *http.Request) (RequestContext, error) {
	var body []byte

	if r.Body != nil {
		var err error

		body, err = io.ReadAll(r.Body)
		if err != nil {
			return RequestContext{}, err
		}

		r.Body = io.NopCloser(strings.NewReader(string(body)))
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[strings.ToLower(name)] = r.Header.Get(name)
	}

	return RequestContext{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Headers: headers,
		Body:    body,
	}, nil
}
