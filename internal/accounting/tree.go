package accounting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// parentLookup resolves an account's parent id inside one organization.
type parentLookup func(ctx context.Context, orgID, accountID int64) (*int64, error)

// checkParent walks ancestors starting at parentID and fails when accountID is met.
// accountID is zero for accounts that do not exist yet, which can never close a loop.
func checkParent(ctx context.Context, orgID, accountID, parentID int64, lookup parentLookup) error {
	if accountID != 0 && parentID == accountID {
		return ErrAccountCycle
	}
	seen := map[int64]struct{}{}
	current := parentID
	for {
		if _, ok := seen[current]; ok {
			// pre-existing loop above us; refuse to attach to it
			return ErrAccountCycle
		}
		seen[current] = struct{}{}
		next, err := lookup(ctx, orgID, current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if accountID != 0 && *next == accountID {
			return ErrAccountCycle
		}
		current = *next
	}
}

// AccountNode is one node of the roll-up view.
type AccountNode struct {
	Account
	// RollupBalance is the account's own balance plus every descendant's balance.
	RollupBalance decimal.Decimal `json:"rollup_balance"`
	Children      []*AccountNode  `json:"children,omitempty"`
}

// BuildTree arranges accounts under their parents and computes roll-up balances.
// Accounts whose parent is absent from the slice become roots.
func BuildTree(accounts []Account) []*AccountNode {
	nodes := make(map[int64]*AccountNode, len(accounts))
	for _, a := range accounts {
		nodes[a.ID] = &AccountNode{Account: a}
	}
	var roots []*AccountNode
	for _, a := range accounts {
		node := nodes[a.ID]
		if a.ParentID != nil {
			if parent, ok := nodes[*a.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	visiting := map[int64]bool{}
	for _, root := range roots {
		rollup(root, visiting)
	}
	sortNodes(roots)
	return roots
}

func rollup(node *AccountNode, visiting map[int64]bool) decimal.Decimal {
	if visiting[node.ID] {
		return decimal.Zero
	}
	visiting[node.ID] = true
	total := node.CurrentBalance
	for _, child := range node.Children {
		total = total.Add(rollup(child, visiting))
	}
	node.RollupBalance = total
	return total
}

func sortNodes(nodes []*AccountNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}
