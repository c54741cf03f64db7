package registryclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrywarden/internal/models"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Cleanup(server.Close)
	host := strings.TrimPrefix(server.URL, "http://")
	return New(models.DistributionEndpoint{Host: host, Insecure: true})
}

func TestListRepositories_Pagination(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set(versionHeader, "registry/2.0")
		if calls == 1 {
			w.Header().Set("Link", `</v2/_catalog?n=100&last=c>; rel="next"`)
			json.NewEncoder(w).Encode(catalogResponse{Repositories: []string{"a", "b", "c"}})
			return
		}
		json.NewEncoder(w).Encode(catalogResponse{Repositories: []string{"d"}})
	}))

	client := newTestClient(t, server)
	repos, err := client.ListRepositories()

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestListTags_NullTagsIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/2.0")
		fmt.Fprint(w, `{"name":"repo","tags":null}`)
	}))

	client := newTestClient(t, server)
	tags, err := client.ListTags("repo")

	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPing_RejectsUnsupportedVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/1.0")
	}))

	client := newTestClient(t, server)
	err := client.Ping()

	assert.ErrorIs(t, err, ErrUnsupportedRegistry)
}

func TestPing_ToleratesMissingVersionHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	client := newTestClient(t, server)
	err := client.Ping()

	assert.NoError(t, err)
}

func TestGetTagsWithData_ManifestListRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	childDigest := "sha256:child1"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/2.0")
		switch {
		case r.URL.Path == "/v2/foo/tags/list":
			fmt.Fprint(w, `{"name":"foo","tags":["latest"]}`)
		case r.URL.Path == "/v2/foo/manifests/latest":
			w.Header().Set(digestHeader, "sha256:list")
			fmt.Fprintf(w, `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[
				{"mediaType":"application/vnd.docker.distribution.manifest.v2+json","size":100,"digest":"%s"},
				{"mediaType":"application/vnd.docker.distribution.manifest.v2+json","size":200,"digest":"sha256:child2"},
				{"mediaType":"application/vnd.docker.distribution.manifest.v2+json","size":300,"digest":"sha256:child3"}
			]}`, childDigest)
		case r.URL.Path == "/v2/foo/manifests/"+childDigest:
			w.Header().Set(digestHeader, childDigest)
			fmt.Fprint(w, `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","config":{"mediaType":"application/vnd.docker.container.image.v1+json","size":10,"digest":"sha256:config1"},"layers":[{"mediaType":"x","size":9999,"digest":"sha256:layer1"}]}`)
		case r.URL.Path == "/v2/foo/blobs/sha256:config1":
			json.NewEncoder(w).Encode(map[string]string{"created": created.Format(time.RFC3339)})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	client := newTestClient(t, server)
	tags, err := client.GetTagsWithData("foo")

	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "latest", tags[0].Name)
	assert.Equal(t, "sha256:list", tags[0].Digest)
	assert.Equal(t, uint64(600), tags[0].Size)
	assert.True(t, created.Equal(tags[0].Created))
}

func TestGetTagsWithData_EmptyManifestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/2.0")
		switch r.URL.Path {
		case "/v2/foo/tags/list":
			fmt.Fprint(w, `{"name":"foo","tags":["latest"]}`)
		case "/v2/foo/manifests/latest":
			w.Header().Set(digestHeader, "sha256:list")
			fmt.Fprint(w, `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[]}`)
		}
	}))

	client := newTestClient(t, server)
	_, err := client.GetTagsWithData("foo")

	assert.ErrorIs(t, err, ErrEmptyManifestList)
}

func TestGetManifest_MissingMediaType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/2.0")
		switch r.URL.Path {
		case "/v2/foo/tags/list":
			fmt.Fprint(w, `{"name":"foo","tags":["latest"]}`)
		case "/v2/foo/manifests/latest":
			w.Header().Set(digestHeader, "sha256:list")
			fmt.Fprint(w, `{}`)
		}
	}))

	client := newTestClient(t, server)
	_, err := client.GetTagsWithData("foo")

	assert.ErrorIs(t, err, ErrMissingMediaType)
}

func TestDeleteManifest_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(versionHeader, "registry/2.0")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "not found")
	}))

	client := newTestClient(t, server)
	err := client.DeleteManifest("foo", "sha256:missing")

	require.Error(t, err)
	var regErr *RegistryError
	assert.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusNotFound, regErr.StatusCode)
}
