// Package schematic implements the dataflow graph model: component
// instance references, port-to-port connections with optional defaults,
// and the validated SchematicModel built from them at network startup.
package schematic

// ProviderKind names the provider backend a schematic's providers section
// binds to.
type ProviderKind string

const (
	ProviderNative  ProviderKind = "Native"
	ProviderWasm    ProviderKind = "Wasm"
	ProviderGrpcURL ProviderKind = "GrpcUrl"
	ProviderLattice ProviderKind = "Lattice"
	ProviderNetwork ProviderKind = "Network"
)

// InputRef and OutputRef are the schematic's own well-known input/output
// sides ("<input>", "<output>").
const (
	InputRef  = "<input>"
	OutputRef = "<output>"
)

// ProviderRef names one provider a schematic draws components from.
type ProviderRef struct {
	Namespace string       `yaml:"namespace"`
	Kind      ProviderKind `yaml:"kind"`
	Reference string       `yaml:"reference"`
}

// InstanceRef is a named usage of a component's operation within a
// schematic.
type InstanceRef struct {
	Namespace string `yaml:"namespace"`
	Operation string `yaml:"operation"`
}

// Connection is a directed `(upstream_port -> downstream_port)` edge, with
// an optional default value at the downstream endpoint. At transaction
// start, a port whose queue is still empty once the caller's payload has
// been seeded receives the default as its first packet. A default exists
// only as part of a connection; a port cannot carry a default without one.
type Connection struct {
	UpstreamRef    string
	UpstreamPort   string
	DownstreamRef  string
	DownstreamPort string
	Default        []byte // raw MessagePack default value, or nil
}

// Def is the raw (unvalidated) schematic as parsed from a manifest.
type Def struct {
	Name        string                 `yaml:"name"`
	Providers   []ProviderRef          `yaml:"providers"`
	Instances   map[string]InstanceRef `yaml:"instances"`
	Connections []Connection           `yaml:"connections"`
}

// Manifest is the top-level YAML document.
type Manifest struct {
	Schematics []Def `yaml:"schematics"`
}
