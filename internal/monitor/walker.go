package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

const defaultMaxWalkDepth = 32

// Member is one object found by a walk.
type Member struct {
	ncp.BlockMemberDescriptor

	// RolePath is the slash-joined role path from the root block.
	RolePath string

	// Depth is 1 for direct members of the root block.
	Depth int
}

// Walker lists a device model block by block. It keeps its own worklist
// instead of recursing, so a deep or cyclic model cannot exhaust the stack.
type Walker struct {
	cmd      ncp.Commander
	maxDepth int
	logger   Logger
}

// NewWalker creates a walker. maxDepth <= 0 uses the default of 32.
func NewWalker(cmd ncp.Commander, maxDepth int, logger Logger) *Walker {
	if maxDepth <= 0 {
		maxDepth = defaultMaxWalkDepth
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Walker{cmd: cmd, maxDepth: maxDepth, logger: logger}
}

type walkItem struct {
	oid   uint64
	path  string
	depth int
}

// Walk lists every object reachable from root, expanding members whose class
// derives from NcBlock. Members are returned in depth-first order, each
// block's members before the members of its first child block.
//
// A block that fails with a method error is skipped and the walk continues;
// the result then comes with an error wrapping ErrWalkIncomplete. A session
// fault or cancelled context stops the walk.
func (w *Walker) Walk(ctx context.Context, root uint64, rootRole string) ([]Member, error) {
	var (
		members []Member
		failed  []error
	)
	visited := map[uint64]bool{root: true}
	stack := []walkItem{{oid: root, path: rootRole}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		descriptors, err := ncp.GetMemberDescriptors(ctx, w.cmd, item.oid, false)
		if err != nil {
			if ctx.Err() != nil || ncp.IsFault(err) {
				return members, err
			}
			w.logger.Warn("listing block members failed", "oid", item.oid, "role_path", item.path, "error", err)
			failed = append(failed, fmt.Errorf("block %d: %w", item.oid, err))
			continue
		}

		var blocks []walkItem
		for _, d := range descriptors {
			m := Member{BlockMemberDescriptor: d, RolePath: item.path + "/" + d.Role, Depth: item.depth + 1}
			members = append(members, m)
			w.logger.Debug("device model member",
				"oid", d.OID, "role_path", m.RolePath, "class_id", d.ClassID.String())

			if !d.ClassID.IsBlock() || visited[d.OID] {
				continue
			}
			if m.Depth >= w.maxDepth {
				w.logger.Warn("device model deeper than limit, not expanding", "oid", d.OID, "max_depth", w.maxDepth)
				continue
			}
			visited[d.OID] = true
			blocks = append(blocks, walkItem{oid: d.OID, path: m.RolePath, depth: m.Depth})
		}
		// Reverse so the first child block is expanded next.
		for i := len(blocks) - 1; i >= 0; i-- {
			stack = append(stack, blocks[i])
		}
	}

	if len(failed) > 0 {
		return members, fmt.Errorf("%w: %w", ErrWalkIncomplete, errors.Join(failed...))
	}
	return members, nil
}
