package kernel

// EntryAlignment is the size in bytes of one packed stream entry (a
// uint32), matching the original encoding's kKernelEntryAlignment. Offsets
// into the kernel stream are byte offsets and must be a multiple of this.
const EntryAlignment = 4

// SpecialNonStrict is the low bit of a kernel's special-attribute word: set
// when the kernel must run even if one of its arguments is in the Error
// state. See spec.md §4.7 step 2 and §4.8.
const SpecialNonStrict uint32 = 1 << 0

// Record is a read-only view over one kernel's entry in a function's
// packed []uint32 kernel stream. The stream layout, per kernel, is:
//
//	[0] code              -- dispatch key into the kernel registry
//	[1] specialMetadata    -- bit flags, bit 0 is "non-strict"
//	[2] locationToken      -- opaque handle resolved by the location handler
//	[3] numArguments
//	[4] numAttributes
//	[5] numFunctions
//	[6] numResults
//	[7 .. 7+numResults)     numUsedBys[r] for each result r
//	-- entries section, indexed from 0 by Entries(offset, count) --
//	[0 .. numArguments)                    argument register indices
//	[.. .. numAttributes)                  indices into the image's attribute table
//	[.. .. numFunctions)                   sub-function indices
//	[.. .. numResults)                     result register indices
//	[.. .. sum(numUsedBys))                per-result downstream kernel ids,
//	                                        results in order
//
// This is exactly the encoding spec.md §3 ("Kernel encoding") describes;
// the surrounding file format (sections, headers, string tables) is the
// decoder's concern and out of this core's scope.
type Record struct {
	stream []uint32
	base   int // word index of this kernel's header.
}

// NewRecord views the kernel whose header starts at the given byte offset
// within stream.
func NewRecord(stream []uint32, byteOffset uint32) Record {
	return Record{stream: stream, base: int(byteOffset / EntryAlignment)}
}

// Code is the dispatch key used to look up the kernel implementation.
func (r Record) Code() uint32 { return r.stream[r.base] }

// SpecialMetadata is the raw special-attribute bit field.
func (r Record) SpecialMetadata() uint32 { return r.stream[r.base+1] }

// IsNonStrict reports whether this kernel must run even with an errored
// argument.
func (r Record) IsNonStrict() bool {
	return r.SpecialMetadata()&SpecialNonStrict != 0
}

// LocationToken is the opaque handle the location handler resolves.
func (r Record) LocationToken() uint32 { return r.stream[r.base+2] }

// NumArguments is the number of argument register entries.
func (r Record) NumArguments() int { return int(r.stream[r.base+3]) }

// NumAttributes is the number of attribute entries.
func (r Record) NumAttributes() int { return int(r.stream[r.base+4]) }

// NumFunctions is the number of sub-function entries.
func (r Record) NumFunctions() int { return int(r.stream[r.base+5]) }

// NumResults is the number of result register entries.
func (r Record) NumResults() int { return int(r.stream[r.base+6]) }

// NumUsedBys is the number of downstream kernels consuming result r.
func (r Record) NumUsedBys(result int) int {
	return int(r.stream[r.base+7+result])
}

// entriesBase is the word index at which the packed entries section (as
// addressed by Entries) begins: right after the fixed header and the
// per-result numUsedBys table.
func (r Record) entriesBase() int {
	return r.base + 7 + r.NumResults()
}

// Entries returns the count entries starting at entryOffset (relative to
// the start of the entries section, i.e. entryOffset 0 is the first
// argument register index).
func (r Record) Entries(entryOffset, count int) []uint32 {
	start := r.entriesBase() + entryOffset
	return r.stream[start : start+count]
}

// RecordSize returns the total size, in words, of this kernel's record
// (header, numUsedBys table and all entries), useful for a stream builder
// computing where the next kernel starts.
func (r Record) RecordSize() int {
	size := r.entriesBase() - r.base
	size += r.NumArguments() + r.NumAttributes() + r.NumFunctions() + r.NumResults()
	for i := 0; i < r.NumResults(); i++ {
		size += r.NumUsedBys(i)
	}
	return size
}
