// Package wire serializes compiled modules for storage and transport.
// The encoding is canonical CBOR, so identical modules always produce
// identical bytes and the doc hash stays stable.
package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lumen-lang/lumen/vm"
)

// FormatVersion is the wire format revision this runtime reads and writes.
const FormatVersion = "lir/1"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// envelope wraps the module with its format tag. The module body is kept
// as raw bytes so the doc hash covers exactly what was encoded.
type envelope struct {
	Format string          `cbor:"format"`
	DocSum string          `cbor:"doc_sum"`
	Module cbor.RawMessage `cbor:"module"`
}

// MarshalModule serializes a module to canonical CBOR with the format
// envelope and a sha256 checksum of the module body.
func MarshalModule(m *vm.Module) ([]byte, error) {
	body, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal module: %w", err)
	}
	return cborEncMode.Marshal(&envelope{
		Format: FormatVersion,
		DocSum: fmt.Sprintf("sha256:%x", sha256.Sum256(body)),
		Module: body,
	})
}

// UnmarshalModule deserializes a module, rejecting unknown format
// revisions and bodies that fail their checksum.
func UnmarshalModule(data []byte) (*vm.Module, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if env.Format != FormatVersion {
		return nil, fmt.Errorf("wire: format %q, this runtime reads %q", env.Format, FormatVersion)
	}
	if sum := fmt.Sprintf("sha256:%x", sha256.Sum256(env.Module)); sum != env.DocSum {
		return nil, fmt.Errorf("wire: module checksum mismatch")
	}
	var m vm.Module
	if err := cbor.Unmarshal(env.Module, &m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal module: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return &m, nil
}
