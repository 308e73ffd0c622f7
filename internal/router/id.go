package router

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator issues message ids of the form <unix-millis>-<node>-<seq>.
// seq is monotonic within the process and node is random per generator, so ids
// never collide even when two messages share a millisecond.
type IDGenerator struct {
	node string
	seq  atomic.Uint64
	now  func() time.Time
}

// NewIDGenerator creates a generator with a fresh random node part.
func NewIDGenerator() *IDGenerator {
	node := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return &IDGenerator{node: node, now: time.Now}
}

// Next returns a new unique id.
func (g *IDGenerator) Next() string {
	seq := g.seq.Add(1)
	var b strings.Builder
	b.Grow(40)
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(g.node)
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(seq, 10))
	return b.String()
}
