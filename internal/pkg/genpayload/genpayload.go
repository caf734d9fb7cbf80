// Package genpayload normalizes the remote generation service's reply shapes
// into concrete artifact bytes. The service does not commit to a single output
// shape: depending on deployment it returns inline data URIs, bare base64
// blobs, remote URLs, or structured file-reference objects. Anything else is
// preserved verbatim as a diagnostic payload instead of being dropped.
package genpayload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Kind tags the detected payload variant.
type Kind int

const (
	KindNone Kind = iota
	KindDataURI
	KindRemoteURL
	KindBase64
	KindFileRef
	KindUnknown
)

// minBase64Len guards the bare-base64 heuristic: short strings that happen to
// match the base64 alphabet (e.g. "done", "ok") must not be decoded.
const minBase64Len = 100

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// refKeys are checked in order on structured reference objects.
var refKeys = []string{"url", "link", "path", "file"}

// Variant is the tagged union over the recognized payload shapes.
type Variant struct {
	Kind Kind
	// URI holds the data URI, remote URL, or bare base64 string.
	URI string
	// Ref holds the structured reference object for KindFileRef.
	Ref map[string]interface{}
	// Raw is the original payload, kept for diagnostics.
	Raw interface{}
}

// Result is the outcome of normalizing one payload. Exactly one of Data or
// Diagnostic is populated, or neither when the stage produced nothing usable
// (e.g. a failed URL fetch, or a nil reply).
type Result struct {
	Data       []byte
	Ext        string
	Diagnostic []byte
}

// Produced reports whether artifact bytes were resolved.
func (r Result) Produced() bool { return len(r.Data) > 0 }

// Detect classifies a decoded JSON payload into one of the known variants.
func Detect(payload interface{}) Variant {
	switch v := payload.(type) {
	case nil:
		return Variant{Kind: KindNone}
	case string:
		switch {
		case strings.HasPrefix(v, "data:"):
			return Variant{Kind: KindDataURI, URI: v, Raw: payload}
		case strings.HasPrefix(v, "http://"), strings.HasPrefix(v, "https://"):
			return Variant{Kind: KindRemoteURL, URI: v, Raw: payload}
		case looksLikeBase64(v):
			return Variant{Kind: KindBase64, URI: v, Raw: payload}
		default:
			return Variant{Kind: KindUnknown, Raw: payload}
		}
	case map[string]interface{}:
		return Variant{Kind: KindFileRef, Ref: v, Raw: payload}
	default:
		return Variant{Kind: KindUnknown, Raw: payload}
	}
}

// Normalize resolves a remote-service payload to artifact bytes plus a
// suggested extension. It never returns an error: unrecognized or
// unresolvable shapes come back as a diagnostic payload, and transient fetch
// failures come back empty so the caller treats the stage as not yet
// produced.
func Normalize(ctx context.Context, client *http.Client, payload interface{}) Result {
	v := Detect(payload)
	switch v.Kind {
	case KindNone:
		return Result{}
	case KindDataURI:
		return resolveDataURI(v.URI)
	case KindRemoteURL:
		return fetchURL(ctx, client, v.URI)
	case KindBase64:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v.URI))
		if err != nil {
			log.Printf("genpayload: base64 candidate failed to decode: %v", err)
			return Result{Diagnostic: diagnosticBytes(v.Raw)}
		}
		return Result{Data: data, Ext: ".bin"}
	case KindFileRef:
		return resolveFileRef(ctx, client, v.Ref)
	case KindUnknown:
		return Result{Diagnostic: diagnosticBytes(v.Raw)}
	default:
		// Unreachable; Detect covers every kind.
		return Result{Diagnostic: diagnosticBytes(v.Raw)}
	}
}

func looksLikeBase64(s string) bool {
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, s)
	return len(compact) > minBase64Len && base64Pattern.MatchString(compact)
}

// resolveDataURI decodes data:<mime>;base64,<payload>.
func resolveDataURI(uri string) Result {
	body := strings.TrimPrefix(uri, "data:")
	sep := strings.Index(body, ",")
	if sep < 0 {
		return Result{Diagnostic: []byte(uri)}
	}
	header, encoded := body[:sep], body[sep+1:]
	mimeType := strings.TrimSuffix(header, ";base64")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Printf("genpayload: data URI failed to decode: %v", err)
		return Result{Diagnostic: []byte(uri)}
	}
	return Result{Data: data, Ext: extFromMime(mimeType)}
}

// extFromMime derives a file extension from a MIME type, stripping any
// "+suffix" (image/svg+xml -> .svg).
func extFromMime(mimeType string) string {
	slash := strings.Index(mimeType, "/")
	if slash < 0 || slash == len(mimeType)-1 {
		return ".bin"
	}
	subtype := mimeType[slash+1:]
	if plus := strings.Index(subtype, "+"); plus >= 0 {
		subtype = subtype[:plus]
	}
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	if subtype == "" {
		return ".bin"
	}
	return "." + subtype
}

func fetchURL(ctx context.Context, client *http.Client, rawURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		log.Printf("genpayload: bad artifact URL %q: %v", rawURL, err)
		return Result{}
	}
	resp, err := client.Do(req)
	if err != nil {
		// The artifact may simply not be published yet; not fatal.
		log.Printf("genpayload: fetch %q failed: %v", rawURL, err)
		return Result{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("genpayload: fetch %q returned status %d", rawURL, resp.StatusCode)
		return Result{}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("genpayload: reading %q failed: %v", rawURL, err)
		return Result{}
	}
	return Result{Data: data, Ext: extFromURL(rawURL)}
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".bin"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return strings.ToLower(ext)
	}
	return ".bin"
}

// resolveFileRef handles structured reference objects. Only absolute URLs can
// be resolved from this side; server-local paths are kept as diagnostics so
// failures stay inspectable.
func resolveFileRef(ctx context.Context, client *http.Client, ref map[string]interface{}) Result {
	for _, key := range refKeys {
		val, ok := ref[key].(string)
		if !ok || val == "" {
			continue
		}
		if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
			return fetchURL(ctx, client, val)
		}
		break
	}
	return Result{Diagnostic: diagnosticBytes(ref)}
}

// diagnosticBytes serializes an unrecognized payload verbatim.
func diagnosticBytes(raw interface{}) []byte {
	switch v := raw.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return []byte(fmt.Sprintf("%v", raw))
		}
		return data
	}
}
