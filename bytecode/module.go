package bytecode

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/google/uuid"
)

// Magic is the fixed 4-byte tag at the start of every .rbin file.
var Magic = [4]byte{'R', 'A', 'Y', 'A'}

// Version is the current bytecode format version.
const Version uint32 = 1

// Module flags (spec §6.1).
const (
	FlagHasDebugInfo uint32 = 1 << 0
	FlagHasReflection uint32 = 1 << 1
)

// Function is a single compiled function's code and frame shape.
type Function struct {
	Name       string
	ParamCount int
	LocalCount int
	Code       []byte
}

// Method is a class method: an index into the owning Module's Functions.
type Method struct {
	Name      string
	FuncIndex uint32
}

// ClassDef is a compiled class definition (spec §3.3).
type ClassDef struct {
	Name       string
	FieldCount int
	ParentID   *uint32 // nil for a root class
	Methods    []Method
}

// Export is a symbol a module makes available to importers.
type Export struct {
	Name  string
	Kind  string // "function" | "class" | "value"
	Index uint32
}

// Import is a dependency another module (or the host) must resolve.
type Import struct {
	ModuleSpecifier   string
	Symbol            string
	Alias             string
	VersionConstraint string
}

// Module is a fully decoded .rbin container (spec §3.5, §6.1).
type Module struct {
	Version    uint32
	Flags      uint32
	InstanceID uuid.UUID // assigned fresh on every Load, not persisted on disk

	Constants *ConstantPool
	Functions []Function
	Classes   []ClassDef
	Exports   []Export
	Imports   []Import

	Checksum [32]byte
}

// ConstantPool holds the constant values referenced by ConstStr/LoadConst.
type ConstantPool struct {
	Strings []string
	Numbers []float64
}

func (c *ConstantPool) GetString(idx uint32) (string, bool) {
	if c == nil || int(idx) >= len(c.Strings) {
		return "", false
	}
	return c.Strings[idx], true
}

func (c *ConstantPool) GetNumber(idx uint32) (float64, bool) {
	if c == nil || int(idx) >= len(c.Numbers) {
		return 0, false
	}
	return c.Numbers[idx], true
}

// Size returns the total constant count (strings + numbers), used by the
// verifier's constant-pool bound check when LoadConst indexes a unified
// pool view.
func (c *ConstantPool) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Strings) + len(c.Numbers)
}

// Encode serializes m to the .rbin wire format: header (magic, version,
// flags, crc32, sha256) followed by the payload. Checksums are computed
// over the payload only, matching the format this module implements.
func (m *Module) Encode() ([]byte, error) {
	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}

	crc := crc32.ChecksumIEEE(payload)
	sum := sha256.Sum256(payload)

	var buf bytes.Buffer
	buf.Write(Magic[:])
	writeU32(&buf, m.Version)
	writeU32(&buf, m.Flags)
	writeU32(&buf, crc)
	buf.Write(sum[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode parses and integrity-checks a .rbin byte stream. A fresh
// InstanceID is assigned to the returned Module; it is never read from the
// wire format.
func Decode(data []byte) (*Module, error) {
	if len(data) < 4+4+4+4+32 {
		return nil, fmt.Errorf("bytecode: truncated header")
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("bytecode: bad magic %q, want %q", magic, Magic)
	}
	version := readU32(data[4:8])
	if version != Version {
		return nil, fmt.Errorf("bytecode: unsupported version %d (current %d)", version, Version)
	}
	flags := readU32(data[8:12])
	storedCRC := readU32(data[12:16])
	var storedSHA [32]byte
	copy(storedSHA[:], data[16:48])
	payload := data[48:]

	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != storedCRC {
		return nil, fmt.Errorf("bytecode: crc32 mismatch: stored %#x, computed %#x", storedCRC, gotCRC)
	}
	gotSHA := sha256.Sum256(payload)
	if gotSHA != storedSHA {
		return nil, fmt.Errorf("bytecode: sha256 checksum mismatch")
	}

	m, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	m.Version = version
	m.Flags = flags
	m.Checksum = storedSHA
	m.InstanceID = uuid.New()
	return m, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *byteReader) (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return readU32(b), nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("bytecode: unexpected end of payload at offset %d (want %d bytes)", r.pos, n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func encodePayload(m *Module) ([]byte, error) {
	var buf bytes.Buffer

	// Constant pool.
	writeU32(&buf, uint32(len(m.Constants.Strings)))
	for _, s := range m.Constants.Strings {
		writeString(&buf, s)
	}
	writeU32(&buf, uint32(len(m.Constants.Numbers)))
	for _, n := range m.Constants.Numbers {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(n))
		buf.Write(b[:])
	}

	// Functions.
	writeU32(&buf, uint32(len(m.Functions)))
	for _, f := range m.Functions {
		writeString(&buf, f.Name)
		writeU32(&buf, uint32(f.ParamCount))
		writeU32(&buf, uint32(f.LocalCount))
		writeU32(&buf, uint32(len(f.Code)))
		buf.Write(f.Code)
	}

	// Classes.
	writeU32(&buf, uint32(len(m.Classes)))
	for _, c := range m.Classes {
		writeString(&buf, c.Name)
		writeU32(&buf, uint32(c.FieldCount))
		if c.ParentID != nil {
			writeU32(&buf, *c.ParentID)
		} else {
			writeU32(&buf, 0xFFFFFFFF)
		}
		writeU32(&buf, uint32(len(c.Methods)))
		for _, meth := range c.Methods {
			writeString(&buf, meth.Name)
			writeU32(&buf, meth.FuncIndex)
		}
	}

	// Exports.
	writeU32(&buf, uint32(len(m.Exports)))
	for _, e := range m.Exports {
		writeString(&buf, e.Name)
		writeString(&buf, e.Kind)
		writeU32(&buf, e.Index)
	}

	// Imports.
	writeU32(&buf, uint32(len(m.Imports)))
	for _, im := range m.Imports {
		writeString(&buf, im.ModuleSpecifier)
		writeString(&buf, im.Symbol)
		writeString(&buf, im.Alias)
		writeString(&buf, im.VersionConstraint)
	}

	return buf.Bytes(), nil
}

func decodePayload(payload []byte) (*Module, error) {
	r := &byteReader{data: payload}
	m := &Module{Constants: &ConstantPool{}}

	nStrings, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nStrings; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		m.Constants.Strings = append(m.Constants.Strings, s)
	}

	nNumbers, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nNumbers; i++ {
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		m.Constants.Numbers = append(m.Constants.Numbers, math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}

	nFuncs, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nFuncs; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		params, err := r.u32()
		if err != nil {
			return nil, err
		}
		locals, err := r.u32()
		if err != nil {
			return nil, err
		}
		codeLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		code, err := r.bytes(int(codeLen))
		if err != nil {
			return nil, err
		}
		codeCopy := make([]byte, len(code))
		copy(codeCopy, code)
		m.Functions = append(m.Functions, Function{
			Name: name, ParamCount: int(params), LocalCount: int(locals), Code: codeCopy,
		})
	}

	nClasses, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nClasses; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		fieldCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		parentRaw, err := r.u32()
		if err != nil {
			return nil, err
		}
		var parentID *uint32
		if parentRaw != 0xFFFFFFFF {
			v := parentRaw
			parentID = &v
		}
		nMethods, err := r.u32()
		if err != nil {
			return nil, err
		}
		var methods []Method
		for j := uint32(0); j < nMethods; j++ {
			mname, err := readString(r)
			if err != nil {
				return nil, err
			}
			idx, err := r.u32()
			if err != nil {
				return nil, err
			}
			methods = append(methods, Method{Name: mname, FuncIndex: idx})
		}
		m.Classes = append(m.Classes, ClassDef{
			Name: name, FieldCount: int(fieldCount), ParentID: parentID, Methods: methods,
		})
	}

	nExports, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nExports; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		kind, err := readString(r)
		if err != nil {
			return nil, err
		}
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}

	nImports, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nImports; i++ {
		spec, err := readString(r)
		if err != nil {
			return nil, err
		}
		sym, err := readString(r)
		if err != nil {
			return nil, err
		}
		alias, err := readString(r)
		if err != nil {
			return nil, err
		}
		constraint, err := readString(r)
		if err != nil {
			return nil, err
		}
		m.Imports = append(m.Imports, Import{
			ModuleSpecifier: spec, Symbol: sym, Alias: alias, VersionConstraint: constraint,
		})
	}

	return m, nil
}
