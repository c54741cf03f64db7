package registryclient

import "fmt"

// ErrUnsupportedRegistry is returned when a response's
// Docker-Distribution-API-Version header doesn't end in "/2.0".
var ErrUnsupportedRegistry = fmt.Errorf("only registry api v2 is supported")

// ErrMissingMediaType is returned when a manifest response body has no
// top-level "mediaType" field.
var ErrMissingMediaType = fmt.Errorf("response is missing the 'mediaType' field")

// ErrMissingDigest is returned when a manifest response is missing the
// Docker-Content-Digest header.
var ErrMissingDigest = fmt.Errorf("response is missing the 'Docker-Content-Digest' header")

// ErrEmptyManifestList is returned when a manifest list has no child
// manifests to aggregate size/created from.
var ErrEmptyManifestList = fmt.Errorf("manifest list doesn't contain any manifests")

// ErrInvalidBlobType is returned when a blob can't be decoded into the
// struct type the caller expected.
var ErrInvalidBlobType = fmt.Errorf("blob can't be decoded into the expected type")

// InvalidHeaderValueError wraps a header name whose value couldn't be
// read or parsed.
type InvalidHeaderValueError struct {
	Header string
}

func (e *InvalidHeaderValueError) Error() string {
	return fmt.Sprintf("found invalid value for header %q", e.Header)
}

// RegistryError wraps a non-2xx response body returned by the registry.
type RegistryError struct {
	StatusCode int
	Body       string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry returned status %d: %s", e.StatusCode, e.Body)
}
