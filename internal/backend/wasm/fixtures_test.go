package wasm

import "encoding/binary"

// Hand-assembled WASI modules used by the tests.

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41

	valI32 = 0x7f
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func uleb(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(len(items))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(len(s)), s...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(len(payload))...)
	return append(out, payload...)
}

func i32Const(v int32) []byte {
	return append([]byte{opI32Const}, sleb(v)...)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Function types.
var (
	typeIOVec   = []byte{0x60, 4, valI32, valI32, valI32, valI32, 1, valI32} // fd_read/fd_write
	typeVoid    = []byte{0x60, 0, 0}
	typeExit    = []byte{0x60, 1, valI32, 0} // proc_exit
	typeI32Void = typeExit
)

type wasmImport struct {
	module, field string
	typeIdx       int
}

// moduleLayout describes a module with imported functions, one defined entry
// function, one page of memory and a data segment at address 0.
type moduleLayout struct {
	types     [][]byte
	imports   []wasmImport
	entryType int
	entryName string
	body      []byte
	data      []byte
}

func (s moduleLayout) encode() []byte {
	var imports [][]byte
	for _, im := range s.imports {
		imports = append(imports, concat(name(im.module), name(im.field), []byte{0x00}, uleb(im.typeIdx)))
	}
	entryIdx := len(s.imports)
	entryName := s.entryName
	if entryName == "" {
		entryName = "_start"
	}

	code := concat([]byte{0x00}, s.body, []byte{opEnd}) // no locals
	out := concat(
		wasmHeader,
		section(1, vec(s.types...)),
		section(2, vec(imports...)),
		section(3, vec(uleb(s.entryType))),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			concat(name("memory"), []byte{0x02}, uleb(0)),
			concat(name(entryName), []byte{0x00}, uleb(entryIdx)),
		)),
		section(10, vec(concat(uleb(len(code)), code))),
	)
	if len(s.data) > 0 {
		segment := concat([]byte{0x00}, i32Const(0), []byte{opEnd}, uleb(len(s.data)), s.data)
		out = append(out, section(11, vec(segment))...)
	}
	return out
}

// writeModule writes msg to fd, then traps when trap is set.
func writeModule(fd int32, msg string, trap bool) []byte {
	// iovec{buf: 16, len: n} at 0, nwritten at 8, message at 16.
	data := concat(le32(16), le32(uint32(len(msg))), make([]byte, 8), []byte(msg))
	body := concat(
		i32Const(fd), i32Const(0), i32Const(1), i32Const(8),
		[]byte{opCall, 0x00, opDrop},
	)
	if trap {
		body = append(body, opUnreachable)
	}
	return moduleLayout{
		types:     [][]byte{typeIOVec, typeVoid},
		imports:   []wasmImport{{"wasi_snapshot_preview1", "fd_write", 0}},
		entryType: 1,
		body:      body,
		data:      data,
	}.encode()
}

// echoModule copies up to 1024 bytes of stdin to stdout.
func echoModule() []byte {
	// iovec{buf: 64, len: 1024} at 0, nread at 8, nwritten at 12.
	data := concat(le32(64), le32(1024))
	body := concat(
		i32Const(0), i32Const(0), i32Const(1), i32Const(8),
		[]byte{opCall, 0x00, opDrop},
		// iovec.len = nread
		i32Const(4), i32Const(8), []byte{opI32Load, 0x02, 0x00}, []byte{opI32Store, 0x02, 0x00},
		i32Const(1), i32Const(0), i32Const(1), i32Const(12),
		[]byte{opCall, 0x01, opDrop},
	)
	return moduleLayout{
		types: [][]byte{typeIOVec, typeVoid},
		imports: []wasmImport{
			{"wasi_snapshot_preview1", "fd_read", 0},
			{"wasi_snapshot_preview1", "fd_write", 0},
		},
		entryType: 1,
		body:      body,
		data:      data,
	}.encode()
}

// exitModule calls proc_exit(code).
func exitModule(code int32) []byte {
	return moduleLayout{
		types:     [][]byte{typeExit, typeVoid},
		imports:   []wasmImport{{"wasi_snapshot_preview1", "proc_exit", 0}},
		entryType: 1,
		body:      concat(i32Const(code), []byte{opCall, 0x00}),
	}.encode()
}

// unresolvedImportModule imports a function no host provides.
func unresolvedImportModule() []byte {
	return moduleLayout{
		types:     [][]byte{typeVoid},
		imports:   []wasmImport{{"env", "missing", 0}},
		entryType: 0,
	}.encode()
}

// wrongEntryModule exports _start taking an i32.
func wrongEntryModule() []byte {
	return moduleLayout{
		types:     [][]byte{typeI32Void},
		entryType: 0,
	}.encode()
}

// noEntryModule exports its function under another name.
func noEntryModule() []byte {
	return moduleLayout{
		types:     [][]byte{typeVoid},
		entryType: 0,
		entryName: "main",
	}.encode()
}
