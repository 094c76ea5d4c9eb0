package signature

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/centra-sso/centra/pkg/common"
)

// Signer stamps outbound requests with the signed-header set and the
// computed request signature. It is the client half of the wire contract;
// the middleware package holds the server half.
type Signer struct {
	engine *Engine
	apiKey string
	tenant string
	secret string
}

// NewSigner builds a signer for one tenant identity.
func NewSigner(engine *Engine, apiKey, tenant, secret string) *Signer {
	return &Signer{
		engine: engine,
		apiKey: apiKey,
		tenant: tenant,
		secret: secret,
	}
}

// SignRequest sets X-API-Key, X-Timestamp, X-Tenant-ID, X-Request-ID,
// X-Signature-Algorithm and X-Signature on req. The body is read and
// restored. Each call uses a fresh request ID.
func (s *Signer) SignRequest(req *http.Request) error {
	var body []byte

	if req.Body != nil {
		var err error

		body, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}

		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	req.Header.Set(common.HeaderAPIKey, s.apiKey)
	req.Header.Set(common.HeaderTenantID, s.tenant)
	req.Header.Set(common.HeaderTimestamp, time.Now().UTC().Format(common.TimestampLayout))
	req.Header.Set(common.HeaderRequestID, uuid.NewString())
	req.Header.Set(common.HeaderSignatureAlgorithm, common.SignatureAlgorithm)

	rc := RequestContext{
		Method:  req.Method,
		Path:    req.URL.EscapedPath(),
		Headers: flattenHeaders(req.Header),
		Body:    body,
	}

	req.Header.Set(common.HeaderSignature, s.engine.Sign(rc, s.secret))

	return nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}

	return out
}
