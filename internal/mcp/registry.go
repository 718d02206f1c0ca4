// Package mcp invokes tools on external MCP servers over a one-shot stdio channel.
package mcp

import (
	"path/filepath"
	"sort"
)

// Provider identifies one of the external tool servers.
type Provider string

// Provider constants define the fixed set of tool servers the pipeline talks to.
const (
	// ProviderERP serves inventory, forecasts and product master data
	ProviderERP Provider = "erp"
	// ProviderSupplier scores suppliers for a SKU
	ProviderSupplier Provider = "supplier"
	// ProviderLogistics plans container loads
	ProviderLogistics Provider = "logistics"
	// ProviderPO stores purchase orders and the decision log
	ProviderPO Provider = "po"
)

// DefaultArtifact is the built entry point of a server, relative to its directory.
const DefaultArtifact = "dist/index.js"

// defaultDirs maps each provider to its directory under the servers root.
var defaultDirs = map[Provider]string{
	ProviderERP:       "erp-data-server",
	ProviderSupplier:  "supplier-data-server",
	ProviderLogistics: "logistics-server",
	ProviderPO:        "po-management-server",
}

// KnownProvider reports whether p is one of the fixed tool servers.
func KnownProvider(p Provider) bool {
	_, ok := defaultDirs[p]
	return ok
}

// ServerSpec describes how to start one provider process.
type ServerSpec struct {
	Name     Provider
	Dir      string
	Command  string
	Args     []string // placed before the artifact path
	Artifact string   // relative to Dir unless absolute
	Env      []string // KEY=VALUE pairs added to the inherited environment
}

// ArtifactPath returns the absolute or Dir-relative path to the built server.
func (s ServerSpec) ArtifactPath() string {
	artifact := s.Artifact
	if artifact == "" {
		artifact = DefaultArtifact
	}
	if filepath.IsAbs(artifact) {
		return artifact
	}
	return filepath.Join(s.Dir, artifact)
}

// Override replaces selected fields of a default spec. Empty fields are ignored.
type Override struct {
	Dir      string
	Command  string
	Args     []string
	Artifact string
}

// Registry is the provider address table. It is read-only after construction
// and safe to share between concurrent runs.
type Registry struct {
	specs map[Provider]ServerSpec
}

// NewRegistry builds the address table rooted at root (usually "<repo>/mcp-servers").
func NewRegistry(root string, overrides map[Provider]Override, env []string) *Registry {
	specs := make(map[Provider]ServerSpec, len(defaultDirs))
	for p, dir := range defaultDirs {
		spec := ServerSpec{
			Name:     p,
			Dir:      filepath.Join(root, dir),
			Command:  "node",
			Artifact: DefaultArtifact,
			Env:      append([]string(nil), env...),
		}
		if o, ok := overrides[p]; ok {
			if o.Dir != "" {
				spec.Dir = o.Dir
			}
			if o.Command != "" {
				spec.Command = o.Command
			}
			if len(o.Args) > 0 {
				spec.Args = append([]string(nil), o.Args...)
			}
			if o.Artifact != "" {
				spec.Artifact = o.Artifact
			}
		}
		specs[p] = spec
	}
	return &Registry{specs: specs}
}

// NewRegistryFromSpecs builds a registry from explicit specs.
func NewRegistryFromSpecs(specs ...ServerSpec) *Registry {
	m := make(map[Provider]ServerSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &Registry{specs: m}
}

// Lookup returns the spec for a provider.
func (r *Registry) Lookup(p Provider) (ServerSpec, error) {
	spec, ok := r.specs[p]
	if !ok {
		return ServerSpec{}, &UnknownProviderError{Provider: p}
	}
	return spec, nil
}

// Providers returns the registered providers in a stable order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.specs))
	for p := range r.specs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
