package sequence

import (
	"github.com/p-n-ai/pai-courses/internal/course"
)

// ValidateUnlock checks that unlockAfter names an item of the same scope
// whose order is strictly below order, the candidate's intended position.
// Because every edge points backwards in a total order the unlock graph
// stays acyclic without a traversal.
func ValidateUnlock(items []Item, candidateID string, order int, unlockAfter string) error {
	if unlockAfter == "" {
		return nil
	}
	if unlockAfter == candidateID {
		return course.Invalid("unlock_after", "an item cannot unlock after itself")
	}
	ref, ok := find(items, unlockAfter)
	if !ok {
		return course.Invalid("unlock_after", "%s is not in the same scope", unlockAfter)
	}
	if ref.Order >= order {
		return course.Invalid("unlock_after", "%s at order %d is not before order %d", unlockAfter, ref.Order, order)
	}
	return nil
}

// ValidateAll checks every unlock-after reference in a scope.
func ValidateAll(items []Item) error {
	for _, it := range items {
		if err := ValidateUnlock(items, it.ID, it.Order, it.UnlockAfter); err != nil {
			return err
		}
	}
	return nil
}
