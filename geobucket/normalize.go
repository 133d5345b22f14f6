// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import "github.com/jcodagnone/geobuckets/geobucket/utils"

// Normalize canonicalizes a free-text place name: lowercased, accents folded,
// trimmed and with internal whitespace runs collapsed to a single space.
//
// An empty result means the name is unusable for matching; callers must not
// treat it as a match target.
func Normalize(raw string) string {
	return utils.CollapseSpaces(utils.LowerASCIIFolding(raw))
}
