package schematic

import (
	"fmt"
	"os"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// connectionObject is the object form of a connection entry, used when a
// default value needs to be attached to the downstream endpoint.
type connectionObject struct {
	Upstream   string `yaml:"upstream"`
	Downstream string `yaml:"downstream"`
	Default    any    `yaml:"default"`
}

// UnmarshalYAML accepts either the string shorthand
// "upstream_ref.port -> downstream_ref.port" or the object form
// { upstream, downstream, default }.
func (c *Connection) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return parseConnectionString(value.Value, c)
	}

	var obj connectionObject
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("schematic: decode connection: %w", err)
	}
	if err := parseEndpoint(obj.Upstream, &c.UpstreamRef, &c.UpstreamPort); err != nil {
		return err
	}
	if err := parseEndpoint(obj.Downstream, &c.DownstreamRef, &c.DownstreamPort); err != nil {
		return err
	}
	if obj.Default != nil {
		data, err := msgpack.Marshal(obj.Default)
		if err != nil {
			return fmt.Errorf("schematic: marshal connection default: %w", err)
		}
		c.Default = data
	}
	return nil
}

func parseConnectionString(s string, c *Connection) error {
	parts := strings.SplitN(s, "->", 2)
	if len(parts) != 2 {
		return fmt.Errorf("schematic: malformed connection %q: expected \"a.port -> b.port\"", s)
	}
	if err := parseEndpoint(strings.TrimSpace(parts[0]), &c.UpstreamRef, &c.UpstreamPort); err != nil {
		return err
	}
	return parseEndpoint(strings.TrimSpace(parts[1]), &c.DownstreamRef, &c.DownstreamPort)
}

func parseEndpoint(s string, ref, port *string) error {
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return fmt.Errorf("schematic: malformed endpoint %q: expected \"ref.port\"", s)
	}
	*ref = s[:idx]
	*port = s[idx+1:]
	if *ref == "" || *port == "" {
		return fmt.Errorf("schematic: malformed endpoint %q: empty ref or port", s)
	}
	return nil
}

// LoadManifest parses a schematic manifest YAML document from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schematic: read manifest %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("schematic: parse manifest %q: %w", path, err)
	}
	return &m, nil
}
