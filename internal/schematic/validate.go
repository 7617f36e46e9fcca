package schematic

import (
	"fmt"
	"sort"

	"github.com/oriys/flowhost/internal/errs"
)

// Signature describes the resolved port names of a component operation:
// which inputs and outputs it exposes, with port names and count known.
// Types are left as opaque strings (ports carry MessagePack-encoded
// values; structural typing is out of scope).
type Signature struct {
	Inputs  []string
	Outputs []string
}

// SignatureResolver resolves an instance's (namespace, operation) to its
// port signature, backed by the provider registry's list() operation.
type SignatureResolver func(namespace, operation string) (Signature, error)

// SchematicModel is the validated form of a Def: component signatures
// resolved, all references type-checked, connection endpoints proven to
// exist, and a deterministic topological dispatch order computed once at
// build time. Immutable after Build, and
// shared read-only by every transaction that invokes this schematic.
type SchematicModel struct {
	Name        string
	Providers   []ProviderRef
	Instances   map[string]InstanceRef
	Signatures  map[string]Signature
	Connections []Connection
	// Order is the deterministic topological dispatch order: topological
	// rank first, then lexicographic instance name, the tie-break rule for
	// simultaneously-ready instances.
	Order []string

	// downstreamOf maps "instanceRef.port" to every connection whose
	// upstream endpoint is that port.
	downstreamOf map[string][]Connection
	// defaultsOf maps "instanceRef.port" to the default value declared on
	// the connection that feeds it.
	defaultsOf map[string][]byte
	// connectedPorts marks "instanceRef.port" (downstream side) as having
	// an inbound connection, for the connection-or-default check in Build.
	connectedPorts map[string]bool
}

// DownstreamOf returns every connection whose upstream endpoint is
// instanceRef.port.
func (m *SchematicModel) DownstreamOf(instanceRef, port string) []Connection {
	return m.downstreamOf[key(instanceRef, port)]
}

// DefaultFor returns the default value declared on the connection that
// feeds instanceRef.port, if one was set. A default is only ever declared
// on a connection, so a defaulted port always has an inbound connection
// as well.
func (m *SchematicModel) DefaultFor(instanceRef, port string) ([]byte, bool) {
	v, ok := m.defaultsOf[key(instanceRef, port)]
	return v, ok
}

func key(ref, port string) string { return ref + "." + port }

// Build validates a Def and constructs its SchematicModel. resolve is used
// to look up each instance's component signature ("SchematicModel
// ... lifecycle: built at network init; immutable thereafter").
//
// Returns a slice of *errs.Error (Validation kind) rather than a single
// error so the caller can aggregate every schematic's failures into one
// errs.InitializationError at startup.
func Build(def Def, resolve SignatureResolver) (*SchematicModel, []*errs.Error) {
	var problems []*errs.Error

	if def.Name == "" {
		problems = append(problems, errs.NewValidation(errs.CodeInvalidModel, "schematic has no name"))
	}

	signatures := make(map[string]Signature, len(def.Instances))
	for ref, inst := range def.Instances {
		sig, err := resolve(inst.Namespace, inst.Operation)
		if err != nil {
			problems = append(problems, errs.NewValidation(errs.CodeInstanceNotFound,
				fmt.Sprintf("instance %q (%s::%s): %v", ref, inst.Namespace, inst.Operation, err)))
			continue
		}
		signatures[ref] = sig
	}

	downstreamOf := make(map[string][]Connection)
	defaultsOf := make(map[string][]byte)
	connectedPorts := make(map[string]bool)

	portExists := func(ref, port string, asInput bool) bool {
		if ref == InputRef || ref == OutputRef {
			return true
		}
		sig, ok := signatures[ref]
		if !ok {
			return false
		}
		ports := sig.Outputs
		if asInput {
			ports = sig.Inputs
		}
		for _, p := range ports {
			if p == port {
				return true
			}
		}
		return false
	}

	for _, conn := range def.Connections {
		if conn.UpstreamRef != InputRef {
			if _, ok := def.Instances[conn.UpstreamRef]; !ok {
				problems = append(problems, errs.NewValidation(errs.CodeConnectionEndpointMissing,
					fmt.Sprintf("connection upstream instance %q not found", conn.UpstreamRef)))
				continue
			}
		}
		if conn.DownstreamRef != OutputRef {
			if _, ok := def.Instances[conn.DownstreamRef]; !ok {
				problems = append(problems, errs.NewValidation(errs.CodeConnectionEndpointMissing,
					fmt.Sprintf("connection downstream instance %q not found", conn.DownstreamRef)))
				continue
			}
		}
		if !portExists(conn.UpstreamRef, conn.UpstreamPort, false) {
			problems = append(problems, errs.NewValidation(errs.CodeConnectionEndpointMissing,
				fmt.Sprintf("upstream port %s.%s not found in signature", conn.UpstreamRef, conn.UpstreamPort)))
			continue
		}
		if !portExists(conn.DownstreamRef, conn.DownstreamPort, true) {
			problems = append(problems, errs.NewValidation(errs.CodeConnectionEndpointMissing,
				fmt.Sprintf("downstream port %s.%s not found in signature", conn.DownstreamRef, conn.DownstreamPort)))
			continue
		}

		upKey := key(conn.UpstreamRef, conn.UpstreamPort)
		downKey := key(conn.DownstreamRef, conn.DownstreamPort)
		if conn.DownstreamRef != OutputRef && connectedPorts[downKey] {
			problems = append(problems, errs.NewValidation(errs.CodeInvalidModel,
				fmt.Sprintf("downstream port %s has more than one inbound connection", downKey)))
			continue
		}
		downstreamOf[upKey] = append(downstreamOf[upKey], conn)
		connectedPorts[downKey] = true
		if conn.Default != nil {
			defaultsOf[downKey] = conn.Default
		}
	}

	// Every downstream port must have exactly one inbound connection or a
	// default (invariant). We check only declared instance input
	// ports (schematic <output> has no further downstream to satisfy).
	for ref, sig := range signatures {
		for _, port := range sig.Inputs {
			dk := key(ref, port)
			if connectedPorts[dk] {
				continue
			}
			if _, ok := defaultsOf[dk]; ok {
				continue
			}
			problems = append(problems, errs.NewValidation(errs.CodeInvalidModel,
				fmt.Sprintf("downstream port %s has neither a connection nor a default", dk)))
		}
	}

	order, cycleErr := topologicalOrder(def, signatures)
	if cycleErr != nil {
		problems = append(problems, cycleErr)
	}

	if len(problems) > 0 {
		return nil, problems
	}

	return &SchematicModel{
		Name:           def.Name,
		Providers:      def.Providers,
		Instances:      def.Instances,
		Signatures:     signatures,
		Connections:    def.Connections,
		Order:          order,
		downstreamOf:   downstreamOf,
		defaultsOf:     defaultsOf,
		connectedPorts: connectedPorts,
	}, nil
}

// topologicalOrder computes the deterministic dispatch order via Kahn's
// algorithm: in-degree map over instance refs (plus the well-known
// <input>/<output> nodes), successor map from connections, processed one
// rank at a time. The nodes whose in-degree reaches zero in the same round
// form one rank (their longest path from a source), and each rank is
// emitted in lexicographic order, so ties resolve deterministically.
func topologicalOrder(def Def, signatures map[string]Signature) ([]string, *errs.Error) {
	nodes := map[string]bool{InputRef: true, OutputRef: true}
	for ref := range def.Instances {
		nodes[ref] = true
	}

	inDegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string)
	for n := range nodes {
		inDegree[n] = 0
	}
	for _, conn := range def.Connections {
		if !nodes[conn.UpstreamRef] || !nodes[conn.DownstreamRef] {
			continue // already reported as ConnectionEndpointMissing
		}
		successors[conn.UpstreamRef] = append(successors[conn.UpstreamRef], conn.DownstreamRef)
		inDegree[conn.DownstreamRef]++
	}

	var ready []string
	for n, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		var nextRank []string
		for _, n := range ready {
			order = append(order, n)
			for _, succ := range successors[n] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					nextRank = append(nextRank, succ)
				}
			}
		}
		ready = nextRank
	}

	if len(order) != len(nodes) {
		return order, errs.NewValidation(errs.CodeInvalidModel, "schematic contains a cycle among instances")
	}
	return order, nil
}
