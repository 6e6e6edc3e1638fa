// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"testing"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

var (
	owner    = ref.MustParseSession("sess-1")
	stranger = ref.MustParseSession("sess-2")
)

func TestStagingTake(t *testing.T) {
	staging := NewStaging(StagingConfig{})
	id := ref.NewBlob()
	if err := staging.Put(owner, id, []byte("model bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := staging.Put(owner, id, []byte("again")); fault.KindOf(err) != fault.BlobCorrupt {
		t.Fatalf("duplicate Put = %v", err)
	}

	if _, err := staging.Take(stranger, id); fault.KindOf(err) != fault.BlobIncomplete {
		t.Fatalf("Take by another session = %v", err)
	}
	data, err := staging.Take(owner, id)
	if err != nil || string(data) != "model bytes" {
		t.Fatalf("Take = %q, %v", data, err)
	}
	if _, err := staging.Take(owner, id); fault.KindOf(err) != fault.BlobIncomplete {
		t.Fatalf("second Take = %v", err)
	}
	if staging.Bytes() != 0 || staging.Len() != 0 {
		t.Errorf("staging holds %d bytes in %d blobs", staging.Bytes(), staging.Len())
	}
}

func TestStagingCap(t *testing.T) {
	staging := NewStaging(StagingConfig{MaxBytes: 10})
	if err := staging.Put(owner, ref.NewBlob(), make([]byte, 8)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := staging.Put(owner, ref.NewBlob(), make([]byte, 3)); fault.KindOf(err) != fault.InvalidPayload {
		t.Fatalf("Put over cap = %v, want InvalidPayload", err)
	}
	if err := staging.Put(owner, ref.NewBlob(), make([]byte, 2)); err != nil {
		t.Fatalf("Put within cap: %v", err)
	}
}

func TestStagingSweepAndDiscard(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	staging := NewStaging(StagingConfig{TTL: time.Minute, Clock: fake})

	staging.Put(owner, ref.NewBlob(), []byte("old"))
	fake.Advance(30 * time.Second)
	fresh := ref.NewBlob()
	staging.Put(owner, fresh, []byte("fresh"))
	staging.Put(stranger, ref.NewBlob(), []byte("theirs"))

	fake.Advance(45 * time.Second)
	if dropped := staging.Sweep(fake.Now()); dropped != 1 {
		t.Fatalf("Sweep dropped %d, want 1", dropped)
	}
	if dropped := staging.DiscardSession(owner); dropped != 1 {
		t.Fatalf("DiscardSession dropped %d, want 1", dropped)
	}
	if staging.Len() != 1 || staging.Bytes() != int64(len("theirs")) {
		t.Errorf("staging has %d blobs, %d bytes", staging.Len(), staging.Bytes())
	}
}
