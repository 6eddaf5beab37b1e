package dispatch

import "fmt"

// Op is an operation verb.
type Op uint8

// Operations understood by the core. Load, Prepare and Dump are value-level
// codecs applied per property; the rest act on whole models or subresources.
const (
	OpInsert Op = iota + 1
	OpUpdate
	OpPatch
	OpUpsert
	OpDelete
	OpGetOne
	OpGetAll
	OpWipe
	OpMigrate
	OpChanges
	OpLoad
	OpPrepare
	OpDump
)

var opNames = map[Op]string{
	OpInsert:  "insert",
	OpUpdate:  "update",
	OpPatch:   "patch",
	OpUpsert:  "upsert",
	OpDelete:  "delete",
	OpGetOne:  "getone",
	OpGetAll:  "getall",
	OpWipe:    "wipe",
	OpMigrate: "migrate",
	OpChanges: "changes",
	OpLoad:    "load",
	OpPrepare: "prepare",
	OpDump:    "dump",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp parses an operation name.
func ParseOp(name string) (Op, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// IsWrite reports whether the operation changes backend state.
func (o Op) IsWrite() bool {
	switch o {
	case OpInsert, OpUpdate, OpPatch, OpUpsert, OpDelete, OpWipe:
		return true
	}
	return false
}
