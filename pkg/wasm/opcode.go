package wasm

// Binary-format constants for the sections, value types, and instruction
// opcodes this emitter produces. Names and values follow the Wasm 1.0
// specification's opcode table.

// Section IDs, in the order sections must appear in a module.
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionStart    = 8
	sectionElement  = 9
	sectionCode     = 10
	sectionData     = 11
)

// Value types.
const (
	valI32     = 0x7f
	valI64     = 0x7e
	valF32     = 0x7d
	valF64     = 0x7c
	valFuncref = 0x70
	typeFunc   = 0x60
	blockVoid  = 0x40
)

// Import/export descriptor kinds.
const (
	descFunc   = 0x00
	descTable  = 0x01
	descMemory = 0x02
)

// Control and parametric instructions.
const (
	opUnreachable  = 0x00
	opNop          = 0x01
	opBlock        = 0x02
	opLoop         = 0x03
	opIf           = 0x04
	opElse         = 0x05
	opEnd          = 0x0b
	opBr           = 0x0c
	opBrIf         = 0x0d
	opBrTable      = 0x0e
	opReturn       = 0x0f
	opCall         = 0x10
	opCallIndirect = 0x11
	opDrop         = 0x1a
	opSelect       = 0x1b
)

// Variable instructions.
const (
	opLocalGet = 0x20
	opLocalSet = 0x21
	opLocalTee = 0x22
)

// Memory instructions.
const (
	opI32Load    = 0x28
	opI64Load    = 0x29
	opF32Load    = 0x2a
	opF64Load    = 0x2b
	opI32Load8S  = 0x2c
	opI32Load8U  = 0x2d
	opI32Load16S = 0x2e
	opI32Load16U = 0x2f
	opI32Store   = 0x36
	opI64Store   = 0x37
	opF32Store   = 0x38
	opF64Store   = 0x39
	opI32Store8  = 0x3a
	opI32Store16 = 0x3b
)

// Constants.
const (
	opI32Const = 0x41
	opI64Const = 0x42
	opF32Const = 0x43
	opF64Const = 0x44
)

// Numeric instructions.
const (
	opI32Eqz  = 0x45
	opI32Eq   = 0x46
	opI32Ne   = 0x47
	opI32LtS  = 0x48
	opI32LtU  = 0x49
	opI32GtS  = 0x4a
	opI32GtU  = 0x4b
	opI32LeS  = 0x4c
	opI32LeU  = 0x4d
	opI32GeS  = 0x4e
	opI32GeU  = 0x4f
	opI64Eqz  = 0x50
	opI64Eq   = 0x51
	opI64Ne   = 0x52
	opI64LtS  = 0x53
	opI64LtU  = 0x54
	opI64GtS  = 0x55
	opI64GtU  = 0x56
	opI64LeS  = 0x57
	opI64LeU  = 0x58
	opI64GeS  = 0x59
	opI64GeU  = 0x5a
	opF32Eq   = 0x5b
	opF32Ne   = 0x5c
	opF32Lt   = 0x5d
	opF32Gt   = 0x5e
	opF32Le   = 0x5f
	opF32Ge   = 0x60
	opF64Eq   = 0x61
	opF64Ne   = 0x62
	opF64Lt   = 0x63
	opF64Gt   = 0x64
	opF64Le   = 0x65
	opF64Ge   = 0x66

	opI32Add  = 0x6a
	opI32Sub  = 0x6b
	opI32Mul  = 0x6c
	opI32DivS = 0x6d
	opI32DivU = 0x6e
	opI32RemS = 0x6f
	opI32RemU = 0x70
	opI32And  = 0x71
	opI32Or   = 0x72
	opI32Xor  = 0x73
	opI32Shl  = 0x74
	opI32ShrS = 0x75
	opI32ShrU = 0x76

	opI64Add  = 0x7c
	opI64Sub  = 0x7d
	opI64Mul  = 0x7e
	opI64DivS = 0x7f
	opI64DivU = 0x80
	opI64RemS = 0x81
	opI64RemU = 0x82
	opI64And  = 0x83
	opI64Or   = 0x84
	opI64Xor  = 0x85
	opI64Shl  = 0x86
	opI64ShrS = 0x87
	opI64ShrU = 0x88

	opF32Neg = 0x8c
	opF32Add = 0x92
	opF32Sub = 0x93
	opF32Mul = 0x94
	opF32Div = 0x95

	opF64Neg = 0x9a
	opF64Add = 0xa0
	opF64Sub = 0xa1
	opF64Mul = 0xa2
	opF64Div = 0xa3

	opI32WrapI64     = 0xa7
	opI32TruncF32S   = 0xa8
	opI32TruncF64S   = 0xaa
	opI64ExtendI32S  = 0xac
	opI64ExtendI32U  = 0xad
	opF32ConvertI32S = 0xb2
	opF32DemoteF64   = 0xb6
	opF64ConvertI32S = 0xb7
	opF64PromoteF32  = 0xbb
)
