package console

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bradleyjkemp/memviz"
	"github.com/jetsetilly/armdap/aarch64"
)

// cmdGraph renders the live Target struct graph (register cache, DPM/CTI/
// Bank collaborators, sibling cores) as Graphviz dot source. memviz walks
// the struct with reflection and is known to panic on certain pointer
// cycles, so a crash here is reported as an ordinary error rather than
// taking the console down with it.
func cmdGraph(ctx context.Context, t *aarch64.Target, args []string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("console: graph: memviz panicked: %v", r)
		}
	}()

	var buf bytes.Buffer
	memviz.Map(&buf, t)
	return buf.String(), nil
}
