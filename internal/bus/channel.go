// ABOUTME: Canonical channel naming for conversation and notification topics
// ABOUTME: Both participants derive the same conversation channel regardless of direction

package bus

const (
	conversationPrefix = "chat-"
	notificationPrefix = "notifications-"
	channelSeparator   = "_"
)

// ConversationChannel returns the channel shared by a and b. The two ids are
// ordered lexicographically so the result is the same for (a, b) and (b, a).
// Ordering is by bytes; the browser widget orders by UTF-16 units, which
// agrees for the ASCII ids parley issues and accepts for the operator.
func ConversationChannel(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return conversationPrefix + a + channelSeparator + b
}

// NotificationChannel returns the personal channel of id.
func NotificationChannel(id string) string {
	return notificationPrefix + id
}

// NotificationPreview truncates content to the first 50 characters for a
// Notification payload.
func NotificationPreview(content string) string {
	const limit = 50
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}
