// Package models holds the core value types shared across the registry
// client, the policy engine and the instance/controller layers.
package models

import "time"

// DistributionEndpoint describes how to reach a Distribution v2 registry.
// It is immutable after an Instance is constructed from it.
type DistributionEndpoint struct {
	Host     string
	Username string
	Password string
	Insecure bool
}

// Scheme returns "http" or "https" depending on the Insecure flag.
func (e DistributionEndpoint) Scheme() string {
	if e.Insecure {
		return "http"
	}
	return "https"
}

// BaseURL composes the scheme+host part of every request made against the
// endpoint. Credentials, when present, are embedded as userinfo so a single
// URL carries everything net/http needs for basic auth.
func (e DistributionEndpoint) BaseURL() string {
	if e.Username == "" {
		return e.Scheme() + "://" + e.Host
	}
	return e.Scheme() + "://" + e.Username + ":" + e.Password + "@" + e.Host
}

// Repository is a named collection of tags living on one endpoint.
type Repository struct {
	Name     string
	Endpoint *DistributionEndpoint
}

// Equal compares repositories by name; within a single Instance all
// repositories share the same endpoint so name identity is sufficient.
func (r Repository) Equal(other Repository) bool {
	return r.Name == other.Name
}

// Tag is one pointer inside a repository. Identity is (repository, name);
// set operations (used by requirement subtraction) compare every field
// since two fetches of the same tag should agree.
type Tag struct {
	Repository string
	Name       string
	Digest     string
	Created    time.Time
	Size       uint64
}

// Equal reports whether two tags are identical across every field.
func (t Tag) Equal(other Tag) bool {
	return t.Repository == other.Repository &&
		t.Name == other.Name &&
		t.Digest == other.Digest &&
		t.Created.Equal(other.Created) &&
		t.Size == other.Size
}

// ManifestDescriptor is the common shape of a config/layer/child-manifest
// reference inside a manifest or manifest list.
type ManifestDescriptor struct {
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

// Manifest is a single-architecture image manifest.
type Manifest struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        ManifestDescriptor   `json:"config"`
	Layers        []ManifestDescriptor `json:"layers"`
}

// ManifestList is a multi-architecture manifest list / OCI image index.
type ManifestList struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Manifests     []ManifestDescriptor `json:"manifests"`
}

// ImageConfig is the subset of a config blob the controller needs.
type ImageConfig struct {
	Created time.Time `json:"created"`
}
