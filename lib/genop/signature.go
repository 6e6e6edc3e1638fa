// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package genop

import (
	"fmt"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/registry"
)

// OperationKind names an operation, e.g. "compute.matmul". Each kind
// maps to exactly one registered handler.
type OperationKind string

// ArgSpec declares one positional argument.
type ArgSpec struct {
	Name string    `cbor:"name"`
	Kind ValueKind `cbor:"kind"`

	// Optional arguments may be omitted from the end of the argument
	// list. Once one argument is optional, all later ones must be.
	Optional bool `cbor:"optional,omitempty"`
}

// ResourceSpec declares one consumed or produced resource.
type ResourceSpec struct {
	Name string        `cbor:"name"`
	Type registry.Type `cbor:"type"`

	// Variadic marks the last spec as matching one or more resources
	// of its type.
	Variadic bool `cbor:"variadic,omitempty"`
}

// OutputSpec declares one returned value.
type OutputSpec struct {
	Name string    `cbor:"name"`
	Kind ValueKind `cbor:"kind"`
}

// Signature is a handler's declaration of what it consumes and
// produces.
type Signature struct {
	Kind        OperationKind  `cbor:"kind"`
	Description string         `cbor:"description,omitempty"`
	Args        []ArgSpec      `cbor:"args,omitempty"`
	Resources   []ResourceSpec `cbor:"resources,omitempty"`
	Outputs     []OutputSpec   `cbor:"outputs,omitempty"`
	Produces    []ResourceSpec `cbor:"produces,omitempty"`
}

// Validate checks that the signature is well-formed.
func (s Signature) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("operation kind is empty")
	}
	names := make(map[string]bool)
	optional := false
	for index, arg := range s.Args {
		if arg.Name == "" {
			return fmt.Errorf("%s: argument %d has no name", s.Kind, index)
		}
		if names[arg.Name] {
			return fmt.Errorf("%s: duplicate argument %q", s.Kind, arg.Name)
		}
		names[arg.Name] = true
		if !arg.Kind.known() || arg.Kind == KindBlob {
			return fmt.Errorf("%s: argument %q has invalid kind %q", s.Kind, arg.Name, arg.Kind)
		}
		if optional && !arg.Optional {
			return fmt.Errorf("%s: required argument %q follows an optional one", s.Kind, arg.Name)
		}
		optional = optional || arg.Optional
	}
	if err := validateResourceSpecs(s.Kind, "resource", s.Resources); err != nil {
		return err
	}
	if err := validateResourceSpecs(s.Kind, "produced resource", s.Produces); err != nil {
		return err
	}
	for _, output := range s.Outputs {
		if !output.Kind.known() || output.Kind == KindBlob {
			return fmt.Errorf("%s: output %q has invalid kind %q", s.Kind, output.Name, output.Kind)
		}
	}
	return nil
}

func validateResourceSpecs(kind OperationKind, role string, specs []ResourceSpec) error {
	for index, spec := range specs {
		if spec.Type == "" {
			return fmt.Errorf("%s: %s %d has no type", kind, role, index)
		}
		if spec.Variadic && index != len(specs)-1 {
			return fmt.Errorf("%s: variadic %s %q is not last", kind, role, spec.Name)
		}
	}
	return nil
}

// bindArgs checks request arguments positionally and returns one
// value per declared argument, leaving omitted optional arguments
// zero.
func (s Signature) bindArgs(args []Value) ([]Value, error) {
	if len(args) > len(s.Args) {
		return nil, fault.New(fault.InvalidArgument, "%s takes at most %d arguments, got %d", s.Kind, len(s.Args), len(args))
	}
	bound := make([]Value, len(s.Args))
	for index, spec := range s.Args {
		if index >= len(args) {
			if !spec.Optional {
				return nil, fault.New(fault.InvalidArgument, "%s: missing required argument %q", s.Kind, spec.Name)
			}
			continue
		}
		value := args[index]
		if !spec.Kind.accepts(value.Kind) {
			return nil, fault.New(fault.InvalidArgument, "%s: argument %d (%s) is %s, want %s", s.Kind, index, spec.Name, value.Kind, spec.Kind)
		}
		if value.Kind == KindBlob && value.Blob == nil {
			return nil, fault.New(fault.InvalidArgument, "%s: argument %q is a blob reference without an ID", s.Kind, spec.Name)
		}
		bound[index] = value
	}
	return bound, nil
}

// expand returns the type expected at each of count positions, or
// false when count does not fit the specs.
func expand(specs []ResourceSpec, count int) ([]registry.Type, bool) {
	fixed := len(specs)
	variadic := fixed > 0 && specs[fixed-1].Variadic
	if count < fixed || (!variadic && count != fixed) {
		return nil, false
	}
	types := make([]registry.Type, count)
	for index := range types {
		if index < fixed {
			types[index] = specs[index].Type
		} else {
			types[index] = specs[fixed-1].Type
		}
	}
	return types, true
}

// resourceTypes returns the type expected for each request resource
// reference.
func (s Signature) resourceTypes(count int) ([]registry.Type, error) {
	types, ok := expand(s.Resources, count)
	if !ok {
		return nil, fault.New(fault.InvalidArgument, "%s takes %s, got %d resource references", s.Kind, describeCount(s.Resources), count)
	}
	return types, nil
}

func describeCount(specs []ResourceSpec) string {
	if len(specs) > 0 && specs[len(specs)-1].Variadic {
		return fmt.Sprintf("at least %d resources", len(specs))
	}
	return fmt.Sprintf("%d resources", len(specs))
}

// checkOutcome verifies that a handler's outcome matches the declared
// outputs and produced resource types.
func (s Signature) checkOutcome(outcome *Outcome) error {
	if len(outcome.Values) != len(s.Outputs) {
		return fmt.Errorf("%s returned %d values, declared %d", s.Kind, len(outcome.Values), len(s.Outputs))
	}
	for index, output := range s.Outputs {
		if got := outcome.Values[index].Kind; got != output.Kind {
			return fmt.Errorf("%s output %d (%s) is %s, declared %s", s.Kind, index, output.Name, got, output.Kind)
		}
	}
	types, ok := expand(s.Produces, len(outcome.Resources))
	if !ok {
		return fmt.Errorf("%s produced %d resources, declared %s", s.Kind, len(outcome.Resources), describeCount(s.Produces))
	}
	for index, produced := range outcome.Resources {
		if produced.Type != types[index] {
			return fmt.Errorf("%s produced resource %d of type %s, declared %s", s.Kind, index, produced.Type, types[index])
		}
	}
	return nil
}
