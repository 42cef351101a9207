// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package merge folds partial stream events into stable message patches.
//
// The merger is a pure function: given one inbound event and the last
// known snapshot of the bot message, it produces a Patch describing the
// next snapshot. Designated tool fields accumulate into an append-only
// ordered array (one response can invoke the same tool more than once);
// every other recognized field is a plain overwrite; absent fields never
// touch the target.
package merge
