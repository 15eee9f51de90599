package counters

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Key kinds reported by the built-in key variants.
const (
	KindCommandExecute     = "DbCommandExecute"
	KindCommandTextExecute = "DbCommandTextExecute"
	KindReaderRead         = "DbReaderRead"
)

// Key identifies a distinct countable event.
type Key interface {
	// Kind names the key variant. Keys of different kinds are never equal.
	Kind() string
	// Identity is equal for two keys if and only if Equal reports true.
	Identity() string
	Equal(other Key) bool
	// Hash only depends on the command text, so keys that differ in their
	// parameters may share a bucket.
	Hash() uint64
	Dump() string
}

// LimitedKey is implemented by keys that are governed by one of the limits of
// a ThresholdConfiguration.
type LimitedKey interface {
	Key
	Limit(threshold ThresholdConfiguration) (setting string, limit int, ok bool)
}

// Parameter is a named argument bound to a command.
type Parameter struct {
	Name  string
	Value any
}

func (p Parameter) identity() string {
	return fmt.Sprintf("%s\x00%T\x00%#v", p.Name, p.Value, p.Value)
}

type commandKey struct {
	text   string
	params []Parameter
}

func newCommandKey(text string, params []Parameter) commandKey {
	if text == "" {
		panic("counters: command text is required")
	}
	return commandKey{text: text, params: append([]Parameter(nil), params...)}
}

// CommandText returns the command text as it was observed.
func (k commandKey) CommandText() string { return k.text }

// Parameters returns a copy of the bound parameters.
func (k commandKey) Parameters() []Parameter { return append([]Parameter(nil), k.params...) }

func (k commandKey) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(k.text)))
	return h.Sum64()
}

func (k commandKey) textIdentity(kind string) string {
	return kind + "\x00" + strings.ToUpper(k.text)
}

func (k commandKey) paramsIdentity(kind string) string {
	var b strings.Builder
	b.WriteString(k.textIdentity(kind))
	for _, p := range k.params {
		b.WriteString("\x00\x00")
		b.WriteString(p.identity())
	}
	return b.String()
}

func (k commandKey) dump(kind string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", kind, k.text)
	for i, p := range k.params {
		fmt.Fprintf(&b, "\n\t[%d]%s = %v", i, p.Name, p.Value)
	}
	return b.String()
}

// CommandExecuteKey counts executions of a command with one exact parameter
// sequence.
type CommandExecuteKey struct{ commandKey }

// NewCommandExecuteKey panics when text is empty.
func NewCommandExecuteKey(text string, params ...Parameter) *CommandExecuteKey {
	return &CommandExecuteKey{newCommandKey(text, params)}
}

func (k *CommandExecuteKey) Kind() string     { return KindCommandExecute }
func (k *CommandExecuteKey) Identity() string { return k.paramsIdentity(KindCommandExecute) }
func (k *CommandExecuteKey) Dump() string     { return k.dump(KindCommandExecute) }

func (k *CommandExecuteKey) Equal(other Key) bool {
	o, ok := other.(*CommandExecuteKey)
	return ok && o != nil && k.Identity() == o.Identity()
}

func (k *CommandExecuteKey) Limit(t ThresholdConfiguration) (string, int, bool) {
	return "DbCommandExecutionThreshold", t.DbCommandExecutionThreshold, true
}

// CommandTextExecuteKey counts executions of a command text regardless of its
// parameters. The parameters are kept for diagnostics only.
type CommandTextExecuteKey struct{ commandKey }

// NewCommandTextExecuteKey panics when text is empty.
func NewCommandTextExecuteKey(text string, params ...Parameter) *CommandTextExecuteKey {
	return &CommandTextExecuteKey{newCommandKey(text, params)}
}

func (k *CommandTextExecuteKey) Kind() string     { return KindCommandTextExecute }
func (k *CommandTextExecuteKey) Identity() string { return k.textIdentity(KindCommandTextExecute) }
func (k *CommandTextExecuteKey) Dump() string     { return k.dump(KindCommandTextExecute) }

func (k *CommandTextExecuteKey) Equal(other Key) bool {
	o, ok := other.(*CommandTextExecuteKey)
	return ok && o != nil && k.Identity() == o.Identity()
}

func (k *CommandTextExecuteKey) Limit(t ThresholdConfiguration) (string, int, bool) {
	return "DbCommandTextExecutionThreshold", t.DbCommandTextExecutionThreshold, true
}

// ReaderReadKey counts rows read from a reader opened by a command with one
// exact parameter sequence.
type ReaderReadKey struct{ commandKey }

// NewReaderReadKey panics when text is empty.
func NewReaderReadKey(text string, params ...Parameter) *ReaderReadKey {
	return &ReaderReadKey{newCommandKey(text, params)}
}

func (k *ReaderReadKey) Kind() string     { return KindReaderRead }
func (k *ReaderReadKey) Identity() string { return k.paramsIdentity(KindReaderRead) }
func (k *ReaderReadKey) Dump() string     { return k.dump(KindReaderRead) }

func (k *ReaderReadKey) Equal(other Key) bool {
	o, ok := other.(*ReaderReadKey)
	return ok && o != nil && k.Identity() == o.Identity()
}

func (k *ReaderReadKey) Limit(t ThresholdConfiguration) (string, int, bool) {
	return "DbReaderReadThreshold", t.DbReaderReadThreshold, true
}
