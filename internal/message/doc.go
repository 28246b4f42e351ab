// Package message defines the envelope exchanged between the two peers.
//
// This package contains value types and their wire codec only. All other
// internal packages import message; message imports nothing internal.
//
// Key design constraints:
//   - Messages are value objects. Constructors copy user info and payload so
//     sender and receiver never share mutable state.
//   - Identity is the ID alone. Dedup and correlation never look at content.
//   - Kind travels as a single self-describing token ("Request",
//     "Notification", "ResponseTo_<id>"), there is no separate discriminant.
package message
