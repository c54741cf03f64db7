// Package registryclient implements just enough of the OCI / Docker
// Distribution v2 HTTP API to traverse a registry's repositories and tags
// and to delete manifests and blobs.
package registryclient

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"registrywarden/internal/models"
)

const (
	manifestContentType     = "application/vnd.oci.image.manifest.v1+json,application/vnd.docker.distribution.manifest.v2+json"
	indexContentType        = "application/vnd.oci.image.index.v1+json,application/vnd.docker.distribution.manifest.list.v2+json"
	singleManifestMediaType = "application/vnd.docker.distribution.manifest.v2+json"

	versionHeader = "Docker-Distribution-API-Version"
	digestHeader  = "Docker-Content-Digest"
)

// Client talks Distribution v2 HTTP against one registry endpoint.
type Client struct {
	endpoint   models.DistributionEndpoint
	httpClient *http.Client
}

// New builds a Client for the given endpoint. A 15s timeout and TLS
// verification controlled by endpoint.Insecure are the registry client's
// default transport settings.
func New(endpoint models.DistributionEndpoint) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: endpoint.Insecure},
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}
}

func (c *Client) doRequest(method, path, accept string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.endpoint.BaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// handleResponse validates the version header and maps non-2xx statuses
// to RegistryError. On success the caller owns resp.Body and must close it.
func handleResponse(resp *http.Response) error {
	if version := resp.Header.Get(versionHeader); version != "" {
		if !strings.HasSuffix(version, "/2.0") {
			return ErrUnsupportedRegistry
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RegistryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// followLink extracts the "rel=\"next\"" URL from an RFC 5988 Link header,
// returning "" when the header is absent or has no next relation.
func followLink(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	parts := strings.Split(header, ",")
	first := parts[0]
	segments := strings.Split(first, ";")
	if len(segments) < 2 || !strings.Contains(segments[1], `rel="next"`) {
		return "", nil
	}
	url := strings.TrimSpace(segments[0])
	url = strings.TrimPrefix(url, "<")
	url = strings.TrimSuffix(url, ">")
	return url, nil
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

// ListRepositories fetches the full, paginated catalog.
func (c *Client) ListRepositories() ([]models.Repository, error) {
	var repositories []models.Repository
	path := "/v2/_catalog?n=100"

	for path != "" {
		resp, err := c.doRequest(http.MethodGet, path, "")
		if err != nil {
			return nil, err
		}
		if err := handleResponse(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}

		var catalog catalogResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&catalog)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding catalog: %w", decodeErr)
		}

		for _, name := range catalog.Repositories {
			repositories = append(repositories, models.Repository{Name: name, Endpoint: &c.endpoint})
		}

		next, err := followLink(link)
		if err != nil {
			return nil, err
		}
		path = next
	}
	return repositories, nil
}

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags fetches the full, paginated tag name list for a repository. A
// null `tags` field is treated as an empty list.
func (c *Client) ListTags(repository string) ([]string, error) {
	var tags []string
	path := fmt.Sprintf("/v2/%s/tags/list?n=100", repository)

	for path != "" {
		resp, err := c.doRequest(http.MethodGet, path, "")
		if err != nil {
			return nil, err
		}
		if err := handleResponse(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}

		var list tagsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&list)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding tags list: %w", decodeErr)
		}

		tags = append(tags, list.Tags...)

		next, err := followLink(link)
		if err != nil {
			return nil, err
		}
		path = next
	}
	return tags, nil
}

// manifestOrList is returned by getManifest: exactly one of Manifest,
// List is non-nil, discriminated by the response body's mediaType field.
type manifestOrList struct {
	Manifest *models.Manifest
	List     *models.ManifestList
	Digest   string
}

func (c *Client) getManifest(repository, ref string) (*manifestOrList, error) {
	resp, err := c.doRequest(http.MethodGet, fmt.Sprintf("/v2/%s/manifests/%s", repository, ref), manifestContentType+","+indexContentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := handleResponse(resp); err != nil {
		return nil, err
	}

	digest := resp.Header.Get(digestHeader)
	if digest == "" {
		return nil, ErrMissingDigest
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest body: %w", err)
	}

	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if probe.MediaType == "" {
		return nil, ErrMissingMediaType
	}

	if probe.MediaType == singleManifestMediaType {
		var manifest models.Manifest
		if err := json.Unmarshal(body, &manifest); err != nil {
			return nil, ErrInvalidBlobType
		}
		return &manifestOrList{Manifest: &manifest, Digest: digest}, nil
	}

	var list models.ManifestList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, ErrInvalidBlobType
	}
	return &manifestOrList{List: &list, Digest: digest}, nil
}

func (c *Client) getConfig(repository string, descriptor models.ManifestDescriptor) (models.ImageConfig, error) {
	resp, err := c.doRequest(http.MethodGet, fmt.Sprintf("/v2/%s/blobs/%s", repository, descriptor.Digest), descriptor.MediaType)
	if err != nil {
		return models.ImageConfig{}, err
	}
	defer resp.Body.Close()
	if err := handleResponse(resp); err != nil {
		return models.ImageConfig{}, err
	}

	var config models.ImageConfig
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return models.ImageConfig{}, ErrInvalidBlobType
	}
	return config, nil
}

// GetTagsWithData fetches every tag in repository along with the data the
// policy engine needs: Digest, Created and Size. For a single-architecture
// manifest, size is the sum of its layer sizes and created comes from its
// own config blob. For a manifest list, size is the sum of the child
// descriptor sizes (not their layer sums) and created comes from the
// first child manifest's config blob.
func (c *Client) GetTagsWithData(repository string) ([]models.Tag, error) {
	names, err := c.ListTags(repository)
	if err != nil {
		return nil, err
	}

	tags := make([]models.Tag, 0, len(names))
	for _, name := range names {
		result, err := c.getManifest(repository, name)
		if err != nil {
			return nil, err
		}

		if result.Manifest != nil {
			var size int64
			for _, layer := range result.Manifest.Layers {
				size += layer.Size
			}
			config, err := c.getConfig(repository, result.Manifest.Config)
			if err != nil {
				return nil, err
			}
			tags = append(tags, models.Tag{
				Repository: repository,
				Name:       name,
				Digest:     result.Digest,
				Created:    config.Created,
				Size:       uint64(size),
			})
			continue
		}

		if len(result.List.Manifests) == 0 {
			return nil, ErrEmptyManifestList
		}
		var size int64
		for _, descriptor := range result.List.Manifests {
			size += descriptor.Size
		}
		first := result.List.Manifests[0]
		childDigest := first.Digest
		child, err := c.getManifest(repository, childDigest)
		if err != nil {
			return nil, err
		}
		if child.Manifest == nil {
			return nil, ErrInvalidBlobType
		}
		config, err := c.getConfig(repository, child.Manifest.Config)
		if err != nil {
			return nil, err
		}
		tags = append(tags, models.Tag{
			Repository: repository,
			Name:       name,
			Digest:     result.Digest,
			Created:    config.Created,
			Size:       uint64(size),
		})
	}
	return tags, nil
}

// DeleteManifest deletes a manifest by digest.
func (c *Client) DeleteManifest(repository, digest string) error {
	resp, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/v2/%s/manifests/%s", repository, digest), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return handleResponse(resp)
}

// DeleteBlob deletes a blob by digest.
func (c *Client) DeleteBlob(repository, digest string) error {
	resp, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/v2/%s/blobs/%s", repository, digest), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return handleResponse(resp)
}

// Ping performs GET /v2/ to confirm the endpoint is reachable and speaks
// the expected API version.
func (c *Client) Ping() error {
	resp, err := c.doRequest(http.MethodGet, "/v2/", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return handleResponse(resp)
}
