// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package genop

import (
	"testing"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
)

func TestSignatureValidate(t *testing.T) {
	tests := []struct {
		name      string
		signature Signature
		valid     bool
	}{
		{"minimal", Signature{Kind: "x.y"}, true},
		{"empty kind", Signature{}, false},
		{"unnamed argument", Signature{Kind: "x", Args: []ArgSpec{{Kind: KindInt}}}, false},
		{"duplicate argument", Signature{Kind: "x", Args: []ArgSpec{{Name: "a", Kind: KindInt}, {Name: "a", Kind: KindFloat}}}, false},
		{"blob declared", Signature{Kind: "x", Args: []ArgSpec{{Name: "a", Kind: KindBlob}}}, false},
		{"unknown kind", Signature{Kind: "x", Args: []ArgSpec{{Name: "a", Kind: "complex"}}}, false},
		{"variadic not last", Signature{Kind: "x", Resources: []ResourceSpec{
			{Name: "a", Type: registry.TypeTensor, Variadic: true},
			{Name: "b", Type: registry.TypeTensor},
		}}, false},
		{"untyped resource", Signature{Kind: "x", Produces: []ResourceSpec{{Name: "out"}}}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.signature.Validate()
			if test.valid && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !test.valid && err == nil {
				t.Error("Validate accepted an invalid signature")
			}
		})
	}
}

func TestBindArgs(t *testing.T) {
	signature := Signature{
		Kind: "x",
		Args: []ArgSpec{
			{Name: "alpha", Kind: KindFloat},
			{Name: "data", Kind: KindBytes, Optional: true},
		},
	}

	bound, err := signature.bindArgs([]Value{Int(3)})
	if err != nil {
		t.Fatalf("bindArgs: %v", err)
	}
	if len(bound) != 2 || bound[0].AsFloat() != 3 || !bound[1].IsZero() {
		t.Errorf("bound = %v", bound)
	}

	if _, err := signature.bindArgs([]Value{Float(1), BlobRef(ref.NewBlob())}); err != nil {
		t.Errorf("blob for bytes slot rejected: %v", err)
	}
	if _, err := signature.bindArgs([]Value{Float(1), {Kind: KindBlob}}); fault.KindOf(err) != fault.InvalidArgument {
		t.Errorf("blob without ID = %v", err)
	}
	if _, err := signature.bindArgs([]Value{String("one")}); fault.KindOf(err) != fault.InvalidArgument {
		t.Errorf("string for float = %v", err)
	}
}

func TestResourceTypesAndOutcome(t *testing.T) {
	signature := Signature{
		Kind:      "fw.run",
		Resources: []ResourceSpec{{Name: "model", Type: registry.TypeModel}, {Name: "inputs", Type: registry.TypeTensor, Variadic: true}},
		Produces:  []ResourceSpec{{Name: "outputs", Type: registry.TypeTensor, Variadic: true}},
	}

	types, err := signature.resourceTypes(3)
	if err != nil {
		t.Fatalf("resourceTypes: %v", err)
	}
	if types[0] != registry.TypeModel || types[1] != registry.TypeTensor || types[2] != registry.TypeTensor {
		t.Errorf("types = %v", types)
	}
	if _, err := signature.resourceTypes(1); err == nil {
		t.Error("variadic spec accepted zero references")
	}

	good := &Outcome{Resources: []Produced{{Type: registry.TypeTensor}, {Type: registry.TypeTensor}}}
	if err := signature.checkOutcome(good); err != nil {
		t.Errorf("checkOutcome(good): %v", err)
	}
	wrongType := &Outcome{Resources: []Produced{{Type: registry.TypeImage}}}
	if err := signature.checkOutcome(wrongType); err == nil {
		t.Error("checkOutcome accepted a wrong produced type")
	}
	extraValue := &Outcome{Values: []Value{Int(1)}, Resources: good.Resources}
	if err := signature.checkOutcome(extraValue); err == nil {
		t.Error("checkOutcome accepted an undeclared value")
	}
}
