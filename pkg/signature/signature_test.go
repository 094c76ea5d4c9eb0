package signature_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/signature"
)

var signedHeaders = []string{"content-type", "x-request-id", "x-tenant-id", "x-timestamp"}

func baseRequest() signature.RequestContext {
	return signature.RequestContext{
		Method: "POST",
		Path:   "/api/v1/audit/events",
		Headers: map[string]string{
			"content-type": "application/json",
			"x-request-id": "req-123",
			"x-tenant-id":  "acme",
			"x-timestamp":  "2026-08-28T10:00:00Z",
		},
		Body: []byte(`{"event":"login"}`),
	}
}

func TestSignDeterminism(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	rc := baseRequest()

	first := engine.Sign(rc, "topsecret")
	second := engine.Sign(rc, "topsecret")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestCanonicalStringShape(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	canonical := engine.CanonicalString(baseRequest())

	lines := strings.Split(canonical, "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "POST", lines[0])
	assert.Equal(t, "/api/v1/audit/events", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "content-type:application/json", lines[3])
	assert.Equal(t, "x-request-id:req-123", lines[4])
	assert.Equal(t, "x-tenant-id:acme", lines[5])
	assert.Equal(t, "x-timestamp:2026-08-28T10:00:00Z", lines[6])
	assert.Equal(t, "content-type;x-request-id;x-tenant-id;x-timestamp", lines[7])
	assert.Equal(t, signature.BodySHA256Hex([]byte(`{"event":"login"}`)), lines[8])
}

func TestTamperSensitivity(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	secret := "topsecret"
	valid := engine.Sign(baseRequest(), secret)

	testCases := []struct {
		name   string
		mutate func(rc *signature.RequestContext)
	}{
		{"body byte flipped", func(rc *signature.RequestContext) {
			rc.Body = []byte(`{"event":"logim"}`)
		}},
		{"method changed", func(rc *signature.RequestContext) {
			rc.Method = "PUT"
		}},
		{"signed header changed", func(rc *signature.RequestContext) {
			rc.Headers["x-tenant-id"] = "beta"
		}},
		{"path changed", func(rc *signature.RequestContext) {
			rc.Path = "/api/v1/audit/event"
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := baseRequest()
			rc.Headers = map[string]string{}
			for k, v := range baseRequest().Headers {
				rc.Headers[k] = v
			}

			tc.mutate(&rc)

			assert.NotEqual(t, valid, engine.Sign(rc, secret))

			result := engine.Verify(rc, valid, secret)
			assert.False(t, result.Valid)
			assert.Equal(t, signature.ReasonMismatch, result.Reason)
		})
	}
}

func TestUnsignedHeaderDoesNotAffectSignature(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	rc := baseRequest()
	valid := engine.Sign(rc, "topsecret")

	rc.Headers["user-agent"] = "curl/8.0"

	assert.Equal(t, valid, engine.Sign(rc, "topsecret"))
}

func TestMissingSignedHeaderTreatedAsEmpty(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	rc := baseRequest()
	delete(rc.Headers, "content-type")

	canonical := engine.CanonicalString(rc)
	assert.Contains(t, canonical, "content-type:\n")
}

func TestVerifyMissingSignature(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)

	result := engine.Verify(baseRequest(), "", "topsecret")

	assert.False(t, result.Valid)
	assert.Equal(t, signature.ReasonMissingSignature, result.Reason)
}

func TestVerifyMalformedTimestamp(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	rc := baseRequest()
	rc.Headers["x-timestamp"] = "yesterday around noon"

	result := engine.Verify(rc, engine.Sign(rc, "topsecret"), "topsecret")

	assert.False(t, result.Valid)
	assert.Equal(t, signature.ReasonMalformedTimestamp, result.Reason)
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	rc := baseRequest()
	rc.Headers["x-signature-algorithm"] = "sha1"

	result := engine.Verify(rc, engine.Sign(rc, "topsecret"), "topsecret")

	assert.False(t, result.Valid)
	assert.Equal(t, signature.ReasonBadAlgorithm, result.Reason)
}

func TestEmptyBodyHashesEmptyString(t *testing.T) {
	// SHA-256 of "".
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		signature.BodySHA256Hex(nil))
}

func TestSignerRoundTrip(t *testing.T) {
	engine := signature.NewEngine(signedHeaders)
	signer := signature.NewSigner(engine, "key-1", "acme", "sharedsecret")

	req := httptest.NewRequest("POST", "https://centra.example.com/api/v1/token/validate", strings.NewReader(`{"token":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, signer.SignRequest(req))

	require.NotEmpty(t, req.Header.Get(common.HeaderSignature))
	assert.Equal(t, "key-1", req.Header.Get(common.HeaderAPIKey))
	assert.Equal(t, "acme", req.Header.Get(common.HeaderTenantID))
	assert.Equal(t, common.SignatureAlgorithm, req.Header.Get(common.HeaderSignatureAlgorithm))

	rc, err := signature.FromHTTPRequest(req)
	require.NoError(t, err)

	result := engine.Verify(rc, req.Header.Get(common.HeaderSignature), "sharedsecret")
	assert.True(t, result.Valid, "reason: %s", result.Reason)
}
