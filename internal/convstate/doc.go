// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package convstate holds the in-memory, observable conversation state.
//
// It is a thin keyed projection: conversation ID to ordered message list,
// with a subscribe/notify contract. Subscribers are notified synchronously
// within the same update, so every intermediate streaming frame is
// observable for progressive rendering. The store is constructed once and
// passed by reference to the components that need it; there is no global
// singleton.
package convstate
