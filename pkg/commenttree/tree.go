package commenttree

// Node はツリー上の1コメント。
type Node[T any] struct {
	// ID はコメントID。
	ID string
	// ParentID は返信先のコメントID。ルートの場合は空。
	ParentID string
	// Value は元のコメント。
	Value T
	// Replies は入力順に並んだ直接の返信。
	Replies []*Node[T]
}

// KeyFunc はコメントからIDと返信先IDを取り出す。
type KeyFunc[T any] func(item T) (id, parentID string)

// index は1回の走査で作るノードのアリーナと子の索引。
type index[T any] struct {
	nodes    []*Node[T]
	byID     map[string]int
	children map[string][]int
}

func buildIndex[T any](items []T, key KeyFunc[T]) *index[T] {
	idx := &index[T]{
		nodes:    make([]*Node[T], 0, len(items)),
		byID:     make(map[string]int, len(items)),
		children: make(map[string][]int),
	}
	for _, item := range items {
		id, parentID := key(item)
		if _, dup := idx.byID[id]; dup {
			continue
		}
		idx.byID[id] = len(idx.nodes)
		idx.nodes = append(idx.nodes, &Node[T]{ID: id, ParentID: parentID, Value: item})
	}
	for i, n := range idx.nodes {
		if n.ParentID != "" {
			idx.children[n.ParentID] = append(idx.children[n.ParentID], i)
		}
	}
	return idx
}

// isRoot は親がいないか、親が一覧に存在しないノードかどうかを返す。
func (idx *index[T]) isRoot(n *Node[T]) bool {
	if n.ParentID == "" {
		return true
	}
	if n.ParentID == n.ID {
		return false
	}
	_, ok := idx.byID[n.ParentID]
	return !ok
}

// Build はコメント一覧から返信ツリーを組み立て、ルートを入力順に返す。
// 返信先が一覧にないコメントはルートになる。同じIDのコメントは最初のものだけを使う。
// 返信関係が循環している場合は、循環内で入力順が最初のコメントをルートにする。
func Build[T any](items []T, key KeyFunc[T]) []*Node[T] {
	idx := buildIndex(items, key)
	attached := make([]bool, len(idx.nodes))
	var roots []*Node[T]

	attach := func(root int) {
		attached[root] = true
		stack := []int{root}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := idx.nodes[i]
			for _, c := range idx.children[n.ID] {
				if attached[c] {
					continue
				}
				attached[c] = true
				n.Replies = append(n.Replies, idx.nodes[c])
				stack = append(stack, c)
			}
		}
	}

	for i, n := range idx.nodes {
		if idx.isRoot(n) {
			roots = append(roots, n)
			attach(i)
		}
	}
	for i, n := range idx.nodes {
		if !attached[i] {
			roots = append(roots, n)
			attach(i)
		}
	}
	return roots
}

// DescendantIDs は rootID の子孫にあたるコメントIDを幅優先順に返す。rootID 自身は含まない。
// 循環があっても各IDは1回だけ返す。
func DescendantIDs[T any](items []T, key KeyFunc[T], rootID string) []string {
	idx := buildIndex(items, key)
	seen := map[string]bool{rootID: true}
	var ids []string

	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range idx.children[id] {
			child := idx.nodes[c].ID
			if seen[child] {
				continue
			}
			seen[child] = true
			ids = append(ids, child)
			queue = append(queue, child)
		}
	}
	return ids
}

// Walk はツリーを深さ優先の前順で辿り、各ノードと深さ（ルートが0）を fn に渡す。
// fn が false を返すとそのノードの返信は辿らない。
func Walk[T any](roots []*Node[T], fn func(n *Node[T], depth int) bool) {
	type frame struct {
		node  *Node[T]
		depth int
	}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Replies[i], f.depth + 1})
		}
	}
}
